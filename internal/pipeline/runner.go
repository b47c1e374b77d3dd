package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recon3d/internal/device"
	"recon3d/internal/geometry"
	"recon3d/internal/imageio"
	"recon3d/internal/model"
	"recon3d/internal/pointcloud"
)

// DefaultQueries are the first-view pixels tracked when a request enables
// tracking without naming its own.
var DefaultQueries = []model.Query{{X: 100, Y: 200}, {X: 60.72, Y: 259.94}}

// WeightsResolver provides a local directory holding the named files.
type WeightsResolver interface {
	Resolve(ctx context.Context, id string, files []string) (string, error)
}

// Options configure a Runner.
type Options struct {
	Backend   model.Backend
	Selection device.Selection
	// Weights resolves ModelID (or WeightsDir when set) for backends that
	// require local files.
	Weights    WeightsResolver
	ModelID    string
	WeightsDir string

	Mode       imageio.Mode
	PointCloud pointcloud.Options
	Plan       *Plan

	Publisher EventPublisher
	Inspector Inspector
	Logger    zerolog.Logger
	// Stdout receives the save confirmation line. Nil disables it.
	Stdout io.Writer
}

// Request is the input of one run.
type Request struct {
	// SourceDir is listed for images unless Images is set.
	SourceDir  string
	Images     []string
	OutputPath string
	Track      bool
	Queries    []model.Query
}

// Result is the output of one run. WorldPoints is the depth-unprojection
// cloud that was persisted; PointMap is the model's direct point-map branch,
// returned for callers but not written.
type Result struct {
	RunID       string
	Selection   device.Selection
	Views       int
	Height      int
	Width       int
	OutputPath  string
	PointCount  int
	Cameras     []geometry.Camera
	WorldPoints geometry.PointMap
	PointMap    model.PointOutput
	Tracks      *model.TrackOutput
	Durations   map[string]time.Duration
}

// Runner executes the plan against a lazily opened model session. At most
// one run is in flight.
type Runner struct {
	opts Options
	plan Plan
	slot chan struct{}

	mu      sync.Mutex
	sess    model.Session
	openErr error
}

// NewRunner validates opts and returns a Runner. No model is loaded until
// the first run or Warm.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Backend == nil {
		return nil, errors.New("pipeline: backend is required")
	}
	plan := DefaultPlan
	if opts.Plan != nil {
		if err := opts.Plan.Validate(); err != nil {
			return nil, err
		}
		plan = *opts.Plan
	}
	if err := checkImplemented(plan); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = imageio.ModeCrop
	}
	if opts.Publisher == nil {
		opts.Publisher = noopPublisher{}
	}
	return &Runner{opts: opts, plan: plan, slot: make(chan struct{}, 1)}, nil
}

// Selection returns the device and precision the runner was built with.
func (r *Runner) Selection() device.Selection { return r.opts.Selection }

// Plan returns the plan the runner executes.
func (r *Runner) Plan() Plan { return r.plan }

// Ready reports whether a model session is open.
func (r *Runner) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// Warm opens the model session ahead of the first run.
func (r *Runner) Warm(ctx context.Context) error {
	_, err := r.session(ctx)
	return err
}

// session returns the open session, loading the model on first use. A
// failed open is retried on the next call.
func (r *Runner) session(ctx context.Context) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return r.sess, nil
	}
	start := time.Now()
	dir := r.opts.WeightsDir
	if files := r.opts.Backend.RequiredFiles(r.opts.Selection.Precision); len(files) > 0 {
		if r.opts.Weights == nil {
			return nil, errors.New("pipeline: backend needs weights but no resolver is configured")
		}
		id := r.opts.ModelID
		if dir != "" {
			id = dir
		}
		resolved, err := r.opts.Weights.Resolve(ctx, id, files)
		if err != nil {
			r.openErr = err
			return nil, err
		}
		dir = resolved
	}
	sess, err := r.opts.Backend.Open(ctx, dir, r.opts.Selection)
	if err != nil {
		r.openErr = err
		return nil, fmt.Errorf("open %s backend: %w", r.opts.Backend.Name(), err)
	}
	r.sess, r.openErr = sess, nil
	r.opts.Logger.Info().
		Str("backend", r.opts.Backend.Name()).
		Str("weights", dir).
		Str("device", string(r.opts.Selection.Device)).
		Str("precision", string(r.opts.Selection.Precision)).
		Dur("took", time.Since(start)).
		Msg("model loaded")
	return sess, nil
}

// LastOpenError returns the error of the most recent failed model load.
func (r *Runner) LastOpenError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openErr
}

// Close releases the model session.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	err := r.sess.Close()
	r.sess = nil
	return err
}

// Run executes the plan once. It returns ErrBusy without waiting when
// another run is in flight.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	select {
	case r.slot <- struct{}{}:
	default:
		runsTotal.WithLabelValues(runResult(ErrBusy)).Inc()
		return Result{}, ErrBusy
	}
	defer func() { <-r.slot }()

	runID := uuid.NewString()
	log := r.opts.Logger.With().Str("run_id", runID).Logger()
	start := time.Now()
	defer func() {
		runsTotal.WithLabelValues(runResult(err)).Inc()
		fields := map[string]any{"took_ms": time.Since(start).Milliseconds()}
		if err != nil {
			fields["error"] = err.Error()
		}
		r.opts.Publisher.Publish(Event{Name: EventRunDone, RunID: runID, Fields: fields})
	}()

	if req.OutputPath == "" {
		return Result{}, errors.New("output path is required")
	}
	if _, err := pointcloud.FormatFor(req.OutputPath); err != nil {
		return Result{}, err
	}
	sess, err := r.session(ctx)
	if err != nil {
		return Result{}, err
	}

	st := &runState{req: req, sess: sess}
	defer func() {
		if st.tokens != nil {
			if rerr := st.tokens.Release(); rerr != nil {
				log.Warn().Err(rerr).Msg("release tokens")
			}
		}
	}()

	durations := make(map[string]time.Duration, len(r.plan.Stages))
	for _, stage := range r.plan.Stages {
		if stage.Optional && !r.wants(stage, req) {
			r.opts.Publisher.Publish(Event{Name: EventStageSkipped, RunID: runID, Stage: stage.Name})
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, &StageError{Stage: stage.Name, Err: err}
		}
		r.opts.Publisher.Publish(Event{Name: EventStageStart, RunID: runID, Stage: stage.Name})
		t0 := time.Now()
		serr := stageImpls[stage.Name].run(ctx, r, st)
		took := time.Since(t0)
		stageDuration.WithLabelValues(stage.Name).Observe(took.Seconds())
		if serr != nil {
			r.opts.Publisher.Publish(Event{Name: EventStageError, RunID: runID, Stage: stage.Name, Fields: map[string]any{"error": serr.Error()}})
			return Result{}, &StageError{Stage: stage.Name, Err: serr}
		}
		durations[stage.Name] = took
		r.opts.Publisher.Publish(Event{Name: EventStageDone, RunID: runID, Stage: stage.Name, Fields: map[string]any{"took_ms": took.Milliseconds()}})

		produced := make(map[Artifact]string, len(stage.Produces))
		for _, a := range stage.Produces {
			produced[a] = st.describe(a)
		}
		log.Debug().Str("stage", stage.Name).Dur("took", took).Interface("produced", produced).Msg("stage done")
		if r.opts.Inspector != nil {
			if ierr := r.opts.Inspector.AfterStage(ctx, StageSummary{RunID: runID, Stage: stage.Name, Took: took, Produced: produced}); ierr != nil {
				return Result{}, &StageError{Stage: stage.Name, Err: ierr}
			}
		}
	}

	res = Result{
		RunID:       runID,
		Selection:   r.opts.Selection,
		OutputPath:  req.OutputPath,
		PointCount:  st.flat,
		Cameras:     st.cameras,
		WorldPoints: st.world,
		PointMap:    st.points,
		Tracks:      st.tracks,
		Durations:   durations,
	}
	if st.batch != nil {
		res.Views, res.Height, res.Width = st.batch.Views, st.batch.Height, st.batch.Width
	}
	return res, nil
}

// wants reports whether an optional stage was requested.
func (r *Runner) wants(stage Stage, req Request) bool {
	switch stage.Name {
	case StageTrack:
		return req.Track
	}
	return false
}
