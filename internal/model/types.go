package model

import (
	"context"
	"fmt"

	"recon3d/internal/device"
	"recon3d/internal/imageio"
)

// Tokens is the opaque aggregated representation returned by
// Session.Aggregate. Only the session that produced it may consume it.
type Tokens interface {
	// Views reports how many views were aggregated.
	Views() int
	// Release frees backend resources held by the tokens.
	Release() error
}

// PoseEncoding holds Views*9 floats, see geometry.PoseEncodingSize.
type PoseEncoding struct {
	Views int
	Data  []float32
}

// DepthOutput is a [views][h][w] depth map with matching confidence.
type DepthOutput struct {
	Views, Height, Width int
	Depth                []float32
	Conf                 []float32
}

// PointOutput is a [views][h][w][3] world point map with [views][h][w]
// confidence.
type PointOutput struct {
	Views, Height, Width int
	Points               []float32
	Conf                 []float32
}

// Query is a pixel in the first view to track.
type Query struct {
	X float64 `json:"x" yaml:"x" toml:"x"`
	Y float64 `json:"y" yaml:"y" toml:"y"`
}

// TrackOutput holds, for every view and query, the predicted 2D position
// ([views][queries][2]) plus visibility and confidence ([views][queries]).
type TrackOutput struct {
	Views, Queries int
	Tracks         []float32
	Visibility     []float32
	Confidence     []float32
}

// Session is a loaded model bound to one device and precision.
type Session interface {
	Aggregate(ctx context.Context, batch *imageio.Batch) (Tokens, error)
	Camera(ctx context.Context, tok Tokens) (PoseEncoding, error)
	Depth(ctx context.Context, tok Tokens, batch *imageio.Batch) (DepthOutput, error)
	Points(ctx context.Context, tok Tokens, batch *imageio.Batch) (PointOutput, error)
	Track(ctx context.Context, tok Tokens, batch *imageio.Batch, queries []Query) (TrackOutput, error)
	Close() error
}

// Backend loads sessions from a weights directory.
type Backend interface {
	Name() string
	// RequiredFiles lists the weight files Open expects in the weights
	// directory for the given precision. An empty list means the backend
	// needs no local weights.
	RequiredFiles(p device.Precision) []string
	Open(ctx context.Context, weightsDir string, sel device.Selection) (Session, error)
}

// CheckDepth verifies a depth output against the batch it was computed for.
func CheckDepth(d DepthOutput, b *imageio.Batch) error {
	if d.Views != b.Views || d.Height != b.Height || d.Width != b.Width {
		return ErrShapeMismatch(fmt.Sprintf("depth %dx%dx%d vs batch %dx%dx%d", d.Views, d.Height, d.Width, b.Views, b.Height, b.Width))
	}
	n := d.Views * d.Height * d.Width
	if len(d.Depth) != n || len(d.Conf) != n {
		return ErrShapeMismatch(fmt.Sprintf("depth data %d/%d values, want %d", len(d.Depth), len(d.Conf), n))
	}
	return nil
}

// CheckPoints verifies a point-map output against the batch.
func CheckPoints(p PointOutput, b *imageio.Batch) error {
	if p.Views != b.Views || p.Height != b.Height || p.Width != b.Width {
		return ErrShapeMismatch(fmt.Sprintf("point map %dx%dx%d vs batch %dx%dx%d", p.Views, p.Height, p.Width, b.Views, b.Height, b.Width))
	}
	n := p.Views * p.Height * p.Width
	if len(p.Points) != 3*n || len(p.Conf) != n {
		return ErrShapeMismatch(fmt.Sprintf("point map data %d/%d values, want %d/%d", len(p.Points), len(p.Conf), 3*n, n))
	}
	return nil
}

// CheckPose verifies a pose encoding against the batch.
func CheckPose(p PoseEncoding, b *imageio.Batch) error {
	if p.Views != b.Views || len(p.Data) != 9*b.Views {
		return ErrShapeMismatch(fmt.Sprintf("pose encoding %d views/%d values vs batch %d views", p.Views, len(p.Data), b.Views))
	}
	return nil
}

// CheckTracks verifies a track output against the batch and query count.
func CheckTracks(t TrackOutput, b *imageio.Batch, queries int) error {
	if t.Views != b.Views || t.Queries != queries {
		return ErrShapeMismatch(fmt.Sprintf("tracks %dx%d vs %d views, %d queries", t.Views, t.Queries, b.Views, queries))
	}
	n := t.Views * t.Queries
	if len(t.Tracks) != 2*n || len(t.Visibility) != n || len(t.Confidence) != n {
		return ErrShapeMismatch("track data length")
	}
	return nil
}
