package model

import (
	"context"
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"recon3d/internal/device"
	"recon3d/internal/geometry"
	"recon3d/internal/imageio"
)

// SyntheticName is the registry name of the synthetic backend.
const SyntheticName = "synthetic"

// SyntheticOptions describe the analytic scene: cameras on a circle of
// Radius in the z=0 plane, each rolled a little about its optical axis and
// looking down +z at the plane z = PlaneDepth.
type SyntheticOptions struct {
	PlaneDepth float64
	Radius     float64
	// FocalScale sets the focal length to FocalScale*max(height, width).
	FocalScale float64
}

func (o SyntheticOptions) withDefaults() SyntheticOptions {
	if o.PlaneDepth <= 0 {
		o.PlaneDepth = 2
	}
	if o.Radius < 0 {
		o.Radius = 0
	} else if o.Radius == 0 {
		o.Radius = 0.1
	}
	if o.FocalScale <= 0 {
		o.FocalScale = 1.2
	}
	return o
}

type syntheticBackend struct{ opts SyntheticOptions }

// NewSyntheticBackend returns a backend whose outputs are exact renderings
// of a fronto-parallel plane. Useful for dry runs and tests.
func NewSyntheticBackend(opts SyntheticOptions) Backend {
	return &syntheticBackend{opts: opts.withDefaults()}
}

func (b *syntheticBackend) Name() string { return SyntheticName }

func (b *syntheticBackend) RequiredFiles(device.Precision) []string { return nil }

func (b *syntheticBackend) Open(ctx context.Context, weightsDir string, sel device.Selection) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &syntheticSession{opts: b.opts, sel: sel}, nil
}

type syntheticSession struct {
	opts   SyntheticOptions
	sel    device.Selection
	closed bool
}

type syntheticTokens struct {
	owner       *syntheticSession
	views, h, w int
	released    bool
}

func (t *syntheticTokens) Views() int { return t.views }

func (t *syntheticTokens) Release() error {
	t.released = true
	return nil
}

func (s *syntheticSession) tokens(ctx context.Context, tok Tokens) (*syntheticTokens, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, errors.New("synthetic session closed")
	}
	st, ok := tok.(*syntheticTokens)
	if !ok || st.owner != s {
		return nil, ErrForeignTokens
	}
	if st.released {
		return nil, errors.New("tokens already released")
	}
	return st, nil
}

// cameras places view i at angle 2πi/views on the circle with a roll of
// 0.05·i radians about the optical axis.
func (s *syntheticSession) cameras(views, h, w int) []geometry.Camera {
	f := s.opts.FocalScale * math.Max(float64(h), float64(w))
	cams := make([]geometry.Camera, views)
	for i := range cams {
		a := 2 * math.Pi * float64(i) / float64(views)
		center := mat.NewVecDense(3, []float64{s.opts.Radius * math.Cos(a), s.opts.Radius * math.Sin(a), 0})
		roll := 0.05 * float64(i)
		r := geometry.QuatToMat(0, 0, math.Sin(roll/2), math.Cos(roll/2))
		var t mat.VecDense
		t.MulVec(r, center)
		ext := mat.NewDense(3, 4, nil)
		ext.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
		for k := 0; k < 3; k++ {
			ext.Set(k, 3, -t.AtVec(k))
		}
		cams[i] = geometry.Camera{
			Extrinsic: ext,
			Intrinsic: mat.NewDense(3, 3, []float64{f, 0, float64(w) / 2, 0, f, float64(h) / 2, 0, 0, 1}),
		}
	}
	return cams
}

func (s *syntheticSession) Aggregate(ctx context.Context, batch *imageio.Batch) (Tokens, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, errors.New("synthetic session closed")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return &syntheticTokens{owner: s, views: batch.Views, h: batch.Height, w: batch.Width}, nil
}

func (s *syntheticSession) Camera(ctx context.Context, tok Tokens) (PoseEncoding, error) {
	st, err := s.tokens(ctx, tok)
	if err != nil {
		return PoseEncoding{}, err
	}
	enc := PoseEncoding{Views: st.views, Data: make([]float32, 0, st.views*geometry.PoseEncodingSize)}
	for _, c := range s.cameras(st.views, st.h, st.w) {
		enc.Data = append(enc.Data, geometry.EncodePose(c, st.h, st.w)...)
	}
	return enc, nil
}

func (s *syntheticSession) Depth(ctx context.Context, tok Tokens, batch *imageio.Batch) (DepthOutput, error) {
	st, err := s.tokens(ctx, tok)
	if err != nil {
		return DepthOutput{}, err
	}
	n := st.views * st.h * st.w
	out := DepthOutput{Views: st.views, Height: st.h, Width: st.w, Depth: make([]float32, n), Conf: make([]float32, n)}
	// Every camera sits at z=0 and only rolls about z, so the plane is at
	// constant depth in every view.
	for i := range out.Depth {
		out.Depth[i] = float32(s.opts.PlaneDepth)
		out.Conf[i] = 1
	}
	return out, nil
}

func (s *syntheticSession) Points(ctx context.Context, tok Tokens, batch *imageio.Batch) (PointOutput, error) {
	st, err := s.tokens(ctx, tok)
	if err != nil {
		return PointOutput{}, err
	}
	n := st.views * st.h * st.w
	out := PointOutput{Views: st.views, Height: st.h, Width: st.w, Points: make([]float32, 0, 3*n), Conf: make([]float32, n)}
	for v, c := range s.cameras(st.views, st.h, st.w) {
		for y := 0; y < st.h; y++ {
			for x := 0; x < st.w; x++ {
				p := geometry.UnprojectPixel(c, float64(x), float64(y), s.opts.PlaneDepth)
				out.Points = append(out.Points, float32(p.X), float32(p.Y), float32(p.Z))
				out.Conf[(v*st.h+y)*st.w+x] = 1
			}
		}
	}
	return out, nil
}

func (s *syntheticSession) Track(ctx context.Context, tok Tokens, batch *imageio.Batch, queries []Query) (TrackOutput, error) {
	st, err := s.tokens(ctx, tok)
	if err != nil {
		return TrackOutput{}, err
	}
	cams := s.cameras(st.views, st.h, st.w)
	world := make([]r3.Vector, len(queries))
	for i, q := range queries {
		world[i] = geometry.UnprojectPixel(cams[0], q.X, q.Y, s.opts.PlaneDepth)
	}
	n := st.views * len(queries)
	out := TrackOutput{Views: st.views, Queries: len(queries), Tracks: make([]float32, 0, 2*n), Visibility: make([]float32, 0, n), Confidence: make([]float32, 0, n)}
	for _, c := range cams {
		for _, p := range world {
			u, v, _ := geometry.Project(c, p)
			vis := float32(0)
			if u >= 0 && v >= 0 && u < float64(st.w) && v < float64(st.h) {
				vis = 1
			}
			out.Tracks = append(out.Tracks, float32(u), float32(v))
			out.Visibility = append(out.Visibility, vis)
			out.Confidence = append(out.Confidence, 1)
		}
	}
	return out, nil
}

func (s *syntheticSession) Close() error {
	s.closed = true
	return nil
}
