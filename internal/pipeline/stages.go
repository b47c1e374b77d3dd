package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"recon3d/internal/geometry"
	"recon3d/internal/imageio"
	"recon3d/internal/model"
	"recon3d/internal/pointcloud"
)

// runState carries artifacts between stages of one run.
type runState struct {
	req  Request
	sess model.Session

	batch   *imageio.Batch
	queries []model.Query
	tokens  model.Tokens
	pose    model.PoseEncoding
	cameras []geometry.Camera
	depth   model.DepthOutput
	points  model.PointOutput
	world   geometry.PointMap
	flat    int
	tracks  *model.TrackOutput
}

type stageFunc func(ctx context.Context, r *Runner, st *runState) error

// stageImpl pairs a stage function with the artifacts it reads from and
// writes to runState. A plan must declare at least these needs and may only
// claim these products.
type stageImpl struct {
	run      stageFunc
	needs    []Artifact
	produces []Artifact
}

var stageImpls = map[string]stageImpl{
	StageLoadImages: {loadImages, nil, []Artifact{ArtBatch, ArtQueries}},
	StageAggregate:  {aggregate, []Artifact{ArtBatch}, []Artifact{ArtTokens}},
	StageCamera:     {camera, []Artifact{ArtTokens, ArtBatch}, []Artifact{ArtPose, ArtCameras}},
	StageDepth:      {depth, []Artifact{ArtTokens, ArtBatch}, []Artifact{ArtDepth}},
	StagePoints:     {points, []Artifact{ArtTokens, ArtBatch}, []Artifact{ArtPointMap}},
	StageUnproject:  {unproject, []Artifact{ArtDepth, ArtCameras}, []Artifact{ArtWorldPoints}},
	StageSave:       {save, []Artifact{ArtWorldPoints}, []Artifact{ArtCloudFile}},
	StageTrack:      {track, []Artifact{ArtTokens, ArtBatch, ArtQueries}, []Artifact{ArtTracks}},
}

// checkImplemented rejects stages with no implementation and declarations
// that do not match what the implementation reads and writes. Together with
// Plan.Validate this guarantees every stage runs after its real inputs exist.
func checkImplemented(p Plan) error {
	for _, st := range p.Stages {
		impl, ok := stageImpls[st.Name]
		if !ok {
			return fmt.Errorf("pipeline: no implementation for stage %q", st.Name)
		}
		for _, a := range impl.needs {
			if !containsArtifact(st.Needs, a) {
				return fmt.Errorf("pipeline: stage %q reads %q but does not declare it", st.Name, a)
			}
		}
		for _, a := range st.Produces {
			if !containsArtifact(impl.produces, a) {
				return fmt.Errorf("pipeline: stage %q declares %q but does not produce it", st.Name, a)
			}
		}
	}
	return nil
}

func containsArtifact(as []Artifact, a Artifact) bool {
	for _, x := range as {
		if x == a {
			return true
		}
	}
	return false
}

// withoutOutput drops the run's own output file from a directory listing.
func withoutOutput(paths []string, output string) []string {
	out, err := filepath.Abs(output)
	if err != nil {
		return paths
	}
	kept := paths[:0:0]
	for _, p := range paths {
		if ap, err := filepath.Abs(p); err == nil && ap == out {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func loadImages(ctx context.Context, r *Runner, st *runState) error {
	paths := st.req.Images
	if len(paths) == 0 {
		var err error
		if paths, err = imageio.ListDir(st.req.SourceDir); err != nil {
			return err
		}
		if paths = withoutOutput(paths, st.req.OutputPath); len(paths) == 0 {
			return fmt.Errorf("%s: %w", st.req.SourceDir, imageio.ErrNoImages)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch, err := imageio.LoadAndPreprocess(paths, r.opts.Mode)
	if err != nil {
		return err
	}
	st.batch = batch
	if !st.req.Track {
		return nil
	}
	st.queries = st.req.Queries
	if len(st.queries) == 0 {
		st.queries = DefaultQueries
	}
	return checkQueries(st.queries, batch.Width, batch.Height)
}

// checkQueries rejects query pixels outside [0,w)x[0,h). Points are never
// clamped.
func checkQueries(qs []model.Query, w, h int) error {
	for i, q := range qs {
		if q.X < 0 || q.Y < 0 || q.X >= float64(w) || q.Y >= float64(h) {
			return ErrQueryOutOfBounds(i, q.X, q.Y, w, h)
		}
	}
	return nil
}

func aggregate(ctx context.Context, r *Runner, st *runState) error {
	tok, err := st.sess.Aggregate(ctx, st.batch)
	if err != nil {
		return err
	}
	if tok.Views() != st.batch.Views {
		_ = tok.Release()
		return model.ErrShapeMismatch(fmt.Sprintf("tokens cover %d views, batch has %d", tok.Views(), st.batch.Views))
	}
	st.tokens = tok
	return nil
}

func camera(ctx context.Context, r *Runner, st *runState) error {
	pose, err := st.sess.Camera(ctx, st.tokens)
	if err != nil {
		return err
	}
	if err := model.CheckPose(pose, st.batch); err != nil {
		return err
	}
	cams, err := geometry.DecodePoses(pose.Data, pose.Views, st.batch.Height, st.batch.Width)
	if err != nil {
		return err
	}
	st.pose, st.cameras = pose, cams
	return nil
}

func depth(ctx context.Context, r *Runner, st *runState) error {
	d, err := st.sess.Depth(ctx, st.tokens, st.batch)
	if err != nil {
		return err
	}
	if err := model.CheckDepth(d, st.batch); err != nil {
		return err
	}
	st.depth = d
	return nil
}

func points(ctx context.Context, r *Runner, st *runState) error {
	p, err := st.sess.Points(ctx, st.tokens, st.batch)
	if err != nil {
		return err
	}
	if err := model.CheckPoints(p, st.batch); err != nil {
		return err
	}
	st.points = p
	return nil
}

func unproject(ctx context.Context, r *Runner, st *runState) error {
	pm, err := geometry.UnprojectDepth(st.depth.Depth, st.depth.Views, st.depth.Height, st.depth.Width, st.cameras)
	if err != nil {
		return err
	}
	st.world = pm
	return nil
}

func save(ctx context.Context, r *Runner, st *runState) error {
	pts := st.world.Flatten()
	if err := pointcloud.Write(st.req.OutputPath, pts, r.opts.PointCloud); err != nil {
		return err
	}
	st.flat = len(pts)
	pointsWritten.Add(float64(len(pts)))
	r.opts.Logger.Info().Str("path", st.req.OutputPath).Int("points", len(pts)).Msg("point cloud saved")
	if r.opts.Stdout != nil {
		fmt.Fprintf(r.opts.Stdout, "Point cloud saved to %s\n", st.req.OutputPath)
	}
	return nil
}

func track(ctx context.Context, r *Runner, st *runState) error {
	t, err := st.sess.Track(ctx, st.tokens, st.batch, st.queries)
	if err != nil {
		return err
	}
	if err := model.CheckTracks(t, st.batch, len(st.queries)); err != nil {
		return err
	}
	st.tracks = &t
	return nil
}

// describe renders an artifact for inspectors and debug logs.
func (st *runState) describe(a Artifact) string {
	switch a {
	case ArtBatch:
		return fmt.Sprintf("%d views %dx%d", st.batch.Views, st.batch.Width, st.batch.Height)
	case ArtQueries:
		return fmt.Sprintf("%d query points", len(st.queries))
	case ArtTokens:
		return fmt.Sprintf("%d views aggregated", st.tokens.Views())
	case ArtPose:
		return fmt.Sprintf("%d pose encodings", st.pose.Views)
	case ArtCameras:
		if len(st.cameras) == 0 {
			return "0 cameras"
		}
		c := st.cameras[0].Center()
		return fmt.Sprintf("%d cameras, first at (%.3f, %.3f, %.3f)", len(st.cameras), c.X, c.Y, c.Z)
	case ArtDepth:
		lo, hi := minMax(st.depth.Depth)
		return fmt.Sprintf("%dx%dx%d depth in [%.3f, %.3f]", st.depth.Views, st.depth.Height, st.depth.Width, lo, hi)
	case ArtPointMap:
		return fmt.Sprintf("%dx%dx%d point map", st.points.Views, st.points.Height, st.points.Width)
	case ArtWorldPoints:
		return fmt.Sprintf("%d world points", len(st.world.Points))
	case ArtCloudFile:
		return fmt.Sprintf("%s (%d points)", st.req.OutputPath, st.flat)
	case ArtTracks:
		if st.tracks == nil {
			return "none"
		}
		return fmt.Sprintf("%d queries across %d views", st.tracks.Queries, st.tracks.Views)
	}
	return ""
}

func minMax(v []float32) (lo, hi float32) {
	for i, x := range v {
		if i == 0 || x < lo {
			lo = x
		}
		if i == 0 || x > hi {
			hi = x
		}
	}
	return lo, hi
}

func sortedArtifacts(m map[Artifact]string) []Artifact {
	out := make([]Artifact, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
