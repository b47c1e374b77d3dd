package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// PointMap is a per-view, per-pixel grid of world points laid out
// [view][y][x].
type PointMap struct {
	Views  int
	Height int
	Width  int
	Points []r3.Vector
}

// At returns the point for one pixel.
func (m PointMap) At(view, y, x int) r3.Vector {
	return m.Points[(view*m.Height+y)*m.Width+x]
}

// Flatten returns the points as one ordered list of length
// Views*Height*Width. The order is preserved from the map.
func (m PointMap) Flatten() []r3.Vector {
	out := make([]r3.Vector, len(m.Points))
	copy(out, m.Points)
	return out
}

// UnprojectPixel lifts pixel (u, v) at depth d in camera c to world space.
func UnprojectPixel(c Camera, u, v, d float64) r3.Vector {
	k := c.Intrinsic
	xc := (u - k.At(0, 2)) * d / k.At(0, 0)
	yc := (v - k.At(1, 2)) * d / k.At(1, 1)
	inv := InvertSE3(c.Extrinsic)
	return applySE3(inv, r3.Vector{X: xc, Y: yc, Z: d})
}

func applySE3(m mat.Matrix, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// UnprojectDepth converts a [views][h][w] depth map into world points using
// one camera per view. Pixel (x, y) uses u=x, v=y.
func UnprojectDepth(depth []float32, views, h, w int, cams []Camera) (PointMap, error) {
	if len(cams) != views {
		return PointMap{}, fmt.Errorf("have %d cameras for %d views", len(cams), views)
	}
	if len(depth) != views*h*w {
		return PointMap{}, fmt.Errorf("depth length %d, want %d", len(depth), views*h*w)
	}
	pm := PointMap{Views: views, Height: h, Width: w, Points: make([]r3.Vector, views*h*w)}
	for s, c := range cams {
		k := c.Intrinsic
		fx, fy, cx, cy := k.At(0, 0), k.At(1, 1), k.At(0, 2), k.At(1, 2)
		if fx == 0 || fy == 0 {
			return PointMap{}, fmt.Errorf("view %d: zero focal length", s)
		}
		inv := InvertSE3(c.Extrinsic)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (s*h+y)*w + x
				d := float64(depth[i])
				cam := r3.Vector{X: (float64(x) - cx) * d / fx, Y: (float64(y) - cy) * d / fy, Z: d}
				pm.Points[i] = applySE3(inv, cam)
			}
		}
	}
	return pm, nil
}

// Plane is the set of points p with Normal·p + Offset = 0.
type Plane struct {
	Normal r3.Vector
	Offset float64
}

// Distance returns the unsigned distance of p to the plane.
func (pl Plane) Distance(p r3.Vector) float64 {
	n := pl.Normal.Norm()
	if n == 0 {
		return math.NaN()
	}
	return math.Abs(pl.Normal.Dot(p)+pl.Offset) / n
}

// MaxDistance returns the largest Distance over pts.
func (pl Plane) MaxDistance(pts []r3.Vector) float64 {
	worst := 0.0
	for _, p := range pts {
		if d := pl.Distance(p); d > worst || math.IsNaN(d) {
			worst = d
		}
	}
	return worst
}
