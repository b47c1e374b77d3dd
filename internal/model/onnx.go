//go:build onnx

package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"recon3d/internal/device"
	"recon3d/internal/imageio"
)

var (
	onnxInitOnce sync.Once
	onnxInitErr  error
)

// initRuntime loads the shared library once per process.
func initRuntime(lib string) error {
	onnxInitOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if !ort.IsInitialized() {
			onnxInitErr = ort.InitializeEnvironment()
		}
	})
	return onnxInitErr
}

type onnxBackend struct{ opts ONNXOptions }

// NewONNXBackend returns a backend running exported stage graphs with ONNX
// Runtime. CUDA sessions use the CUDA execution provider.
func NewONNXBackend(opts ONNXOptions) Backend { return &onnxBackend{opts: opts} }

func (b *onnxBackend) Name() string { return ONNXName }

func (b *onnxBackend) RequiredFiles(p device.Precision) []string { return onnxRequiredFiles(p) }

// onnxStage describes one exported graph and its tensor names.
type onnxStage struct {
	file    string
	inputs  []string
	outputs []string
}

func onnxStages(p device.Precision) (agg, cam, depth, point, track onnxStage) {
	heads := []string{"tokens", "images", "patch_start_idx"}
	agg = onnxStage{onnxAggregatorFile(p), []string{"images"}, []string{"tokens", "patch_start_idx"}}
	cam = onnxStage{onnxCameraFile, []string{"tokens"}, []string{"pose_enc"}}
	depth = onnxStage{onnxDepthFile, heads, []string{"depth", "depth_conf"}}
	point = onnxStage{onnxPointFile, heads, []string{"world_points", "world_points_conf"}}
	track = onnxStage{onnxTrackFile, append(append([]string(nil), heads...), "query_points"), []string{"track", "vis", "conf"}}
	return
}

func (b *onnxBackend) Open(ctx context.Context, weightsDir string, sel device.Selection) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := initRuntime(b.opts.LibraryPath); err != nil {
		return nil, ErrDependencyUnavailable("onnxruntime init: " + err.Error())
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if b.opts.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(b.opts.Threads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}
	if sel.Device == device.CUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, ErrDependencyUnavailable("cuda provider: " + err.Error())
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, ErrDependencyUnavailable("cuda provider: " + err.Error())
		}
	}

	s := &onnxSession{}
	agg, cam, depth, point, track := onnxStages(sel.Precision)
	for _, st := range []struct {
		spec onnxStage
		dst  **ort.DynamicAdvancedSession
	}{
		{agg, &s.agg}, {cam, &s.cam}, {depth, &s.depth}, {point, &s.point}, {track, &s.track},
	} {
		sess, err := ort.NewDynamicAdvancedSession(filepath.Join(weightsDir, st.spec.file), st.spec.inputs, st.spec.outputs, opts)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("load %s: %w", st.spec.file, err)
		}
		*st.dst = sess
	}
	return s, nil
}

type onnxSession struct {
	agg, cam, depth, point, track *ort.DynamicAdvancedSession
}

type onnxTokens struct {
	owner  *onnxSession
	views  int
	images *ort.Tensor[float32]
	tokens ort.Value
	psIdx  ort.Value
}

func (t *onnxTokens) Views() int { return t.views }

func (t *onnxTokens) Release() error {
	var errs []error
	if t.images != nil {
		errs = append(errs, t.images.Destroy())
	}
	for _, v := range []ort.Value{t.tokens, t.psIdx} {
		if v != nil {
			errs = append(errs, v.Destroy())
		}
	}
	t.images, t.tokens, t.psIdx = nil, nil, nil
	return errors.Join(errs...)
}

func (s *onnxSession) own(ctx context.Context, tok Tokens) (*onnxTokens, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ot, ok := tok.(*onnxTokens)
	if !ok || ot.owner != s {
		return nil, ErrForeignTokens
	}
	if ot.tokens == nil {
		return nil, errors.New("tokens already released")
	}
	return ot, nil
}

// run executes sess and returns the float32 outputs, destroying them after
// copying their data out.
func run(sess *ort.DynamicAdvancedSession, inputs []ort.Value, n int) ([][]float32, error) {
	outputs := make([]ort.Value, n)
	if err := sess.Run(inputs, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()
	data := make([][]float32, n)
	for i, o := range outputs {
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %d: unexpected tensor type %T", i, o)
		}
		data[i] = append([]float32(nil), t.GetData()...)
	}
	return data, nil
}

func (s *onnxSession) Aggregate(ctx context.Context, batch *imageio.Batch) (Tokens, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	images, err := ort.NewTensor(ort.NewShape(batch.Shape()...), batch.Data)
	if err != nil {
		return nil, fmt.Errorf("images tensor: %w", err)
	}
	outputs := make([]ort.Value, 2)
	if err := s.agg.Run([]ort.Value{images}, outputs); err != nil {
		_ = images.Destroy()
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	return &onnxTokens{owner: s, views: batch.Views, images: images, tokens: outputs[0], psIdx: outputs[1]}, nil
}

func (s *onnxSession) Camera(ctx context.Context, tok Tokens) (PoseEncoding, error) {
	ot, err := s.own(ctx, tok)
	if err != nil {
		return PoseEncoding{}, err
	}
	data, err := run(s.cam, []ort.Value{ot.tokens}, 1)
	if err != nil {
		return PoseEncoding{}, fmt.Errorf("camera head: %w", err)
	}
	return PoseEncoding{Views: ot.views, Data: data[0]}, nil
}

func (s *onnxSession) Depth(ctx context.Context, tok Tokens, batch *imageio.Batch) (DepthOutput, error) {
	ot, err := s.own(ctx, tok)
	if err != nil {
		return DepthOutput{}, err
	}
	data, err := run(s.depth, []ort.Value{ot.tokens, ot.images, ot.psIdx}, 2)
	if err != nil {
		return DepthOutput{}, fmt.Errorf("depth head: %w", err)
	}
	return DepthOutput{Views: batch.Views, Height: batch.Height, Width: batch.Width, Depth: data[0], Conf: data[1]}, nil
}

func (s *onnxSession) Points(ctx context.Context, tok Tokens, batch *imageio.Batch) (PointOutput, error) {
	ot, err := s.own(ctx, tok)
	if err != nil {
		return PointOutput{}, err
	}
	data, err := run(s.point, []ort.Value{ot.tokens, ot.images, ot.psIdx}, 2)
	if err != nil {
		return PointOutput{}, fmt.Errorf("point head: %w", err)
	}
	return PointOutput{Views: batch.Views, Height: batch.Height, Width: batch.Width, Points: data[0], Conf: data[1]}, nil
}

func (s *onnxSession) Track(ctx context.Context, tok Tokens, batch *imageio.Batch, queries []Query) (TrackOutput, error) {
	ot, err := s.own(ctx, tok)
	if err != nil {
		return TrackOutput{}, err
	}
	q := make([]float32, 0, 2*len(queries))
	for _, p := range queries {
		q = append(q, float32(p.X), float32(p.Y))
	}
	qt, err := ort.NewTensor(ort.NewShape(1, int64(len(queries)), 2), q)
	if err != nil {
		return TrackOutput{}, fmt.Errorf("query tensor: %w", err)
	}
	defer qt.Destroy()
	data, err := run(s.track, []ort.Value{ot.tokens, ot.images, ot.psIdx, qt}, 3)
	if err != nil {
		return TrackOutput{}, fmt.Errorf("track head: %w", err)
	}
	return TrackOutput{Views: batch.Views, Queries: len(queries), Tracks: data[0], Visibility: data[1], Confidence: data[2]}, nil
}

func (s *onnxSession) Close() error {
	var errs []error
	for _, sess := range []*ort.DynamicAdvancedSession{s.agg, s.cam, s.depth, s.point, s.track} {
		if sess != nil {
			errs = append(errs, sess.Destroy())
		}
	}
	s.agg, s.cam, s.depth, s.point, s.track = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}
