package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"recon3d/internal/device"
	"recon3d/internal/model"
	"recon3d/internal/pointcloud"
	"recon3d/pkg/types"
)

// badRequestError marks request errors the HTTP layer maps to 400.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string   { return e.msg }
func (e badRequestError) StatusCode() int { return 400 }

// Service exposes a Runner over the JSON payloads of pkg/types. Request
// paths are confined to Root.
type Service struct {
	Runner *Runner
	Report device.Report
	Root   string
}

// Reconstruct runs the pipeline for one HTTP request.
func (s *Service) Reconstruct(ctx context.Context, req types.ReconstructRequest) (types.ReconstructResponse, error) {
	if strings.TrimSpace(req.SourceDir) == "" {
		return types.ReconstructResponse{}, badRequestError{msg: "source_dir is required"}
	}
	out := req.OutputPath
	if out == "" {
		out = defaultOutput(req.SourceDir)
	}
	if _, err := pointcloud.FormatFor(out); err != nil {
		return types.ReconstructResponse{}, badRequestError{msg: err.Error()}
	}
	preq := Request{
		SourceDir:  s.under(req.SourceDir),
		OutputPath: s.under(out),
		Track:      req.Track,
	}
	for _, q := range req.Queries {
		preq.Queries = append(preq.Queries, model.Query{X: q.X, Y: q.Y})
	}
	res, err := s.Runner.Run(ctx, preq)
	if err != nil {
		return types.ReconstructResponse{}, err
	}
	resp := types.ReconstructResponse{
		RunID:      res.RunID,
		OutputPath: out,
		Points:     res.PointCount,
		Views:      res.Views,
		Width:      res.Width,
		Height:     res.Height,
		Device:     string(res.Selection.Device),
		Dtype:      string(res.Selection.Precision),
		StageMS:    make(map[string]int64, len(res.Durations)),
	}
	for name, d := range res.Durations {
		resp.StageMS[name] = d.Milliseconds()
	}
	for _, c := range res.Cameras {
		ctr := c.Center()
		resp.Cameras = append(resp.Cameras, types.CameraPose{
			Center: [3]float64{ctr.X, ctr.Y, ctr.Z},
			Fx:     c.Intrinsic.At(0, 0),
			Fy:     c.Intrinsic.At(1, 1),
		})
	}
	if t := res.Tracks; t != nil {
		queries := preq.Queries
		if len(queries) == 0 {
			queries = DefaultQueries
		}
		for q := 0; q < t.Queries; q++ {
			tr := types.Track{Query: types.QueryPoint{X: queries[q].X, Y: queries[q].Y}}
			for v := 0; v < t.Views; v++ {
				i := v*t.Queries + q
				tr.Positions = append(tr.Positions, [2]float64{float64(t.Tracks[2*i]), float64(t.Tracks[2*i+1])})
				tr.Visibility = append(tr.Visibility, float64(t.Visibility[i]))
				tr.Confidence = append(tr.Confidence, float64(t.Confidence[i]))
			}
			resp.Tracks = append(resp.Tracks, tr)
		}
	}
	return resp, nil
}

// under maps a request path into Root. Absolute paths and ".." segments
// cannot escape it.
func (s *Service) under(p string) string {
	root := s.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, filepath.Clean("/"+p))
}

// Device reports the probed hardware and the selection in use.
func (s *Service) Device() types.DeviceResponse {
	sel := s.Runner.Selection()
	return types.DeviceResponse{
		Accelerator: s.Report.Accelerator,
		Name:        s.Report.Name,
		Capability:  s.Report.Capability(),
		Device:      string(sel.Device),
		Dtype:       string(sel.Precision),
		Backend:     s.Runner.opts.Backend.Name(),
	}
}

// Ready reports whether the model is loaded.
func (s *Service) Ready() bool { return s.Runner.Ready() }

// defaultOutput names the cloud after the source directory and places it
// beside it, so repeated runs never feed their own output back as an image.
// A source at the root falls back to output.ply.
func defaultOutput(src string) string {
	c := filepath.Clean(src)
	if c == "." || c == string(filepath.Separator) {
		return "output.ply"
	}
	return strings.TrimSuffix(c, string(filepath.Separator)) + ".ply"
}

// IsBadRequest reports whether err was caused by the request payload.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}
