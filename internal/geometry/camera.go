// Package geometry converts model outputs into explicit cameras and world
// points. Matrices follow the OpenCV convention: extrinsics map world to
// camera coordinates, x_cam = R·x_world + t.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// PoseEncodingSize is the number of floats per view in a pose encoding:
// translation (3), scalar-last quaternion (4), vertical and horizontal field
// of view in radians (2).
const PoseEncodingSize = 9

// Camera holds one view's decoded parameters.
type Camera struct {
	// Extrinsic is 3x4 [R | t], camera-from-world.
	Extrinsic *mat.Dense
	// Intrinsic is 3x3 K.
	Intrinsic *mat.Dense
}

// Rotation returns the 3x3 rotation block of the extrinsic.
func (c Camera) Rotation() mat.Matrix { return c.Extrinsic.Slice(0, 3, 0, 3) }

// Translation returns t.
func (c Camera) Translation() r3.Vector {
	return r3.Vector{X: c.Extrinsic.At(0, 3), Y: c.Extrinsic.At(1, 3), Z: c.Extrinsic.At(2, 3)}
}

// Center returns the camera position in world coordinates, -Rᵀt.
func (c Camera) Center() r3.Vector {
	inv := InvertSE3(c.Extrinsic)
	return r3.Vector{X: inv.At(0, 3), Y: inv.At(1, 3), Z: inv.At(2, 3)}
}

// QuatToMat converts a scalar-last quaternion (x, y, z, w) to a rotation
// matrix. The quaternion need not be normalized.
func QuatToMat(x, y, z, w float64) *mat.Dense {
	n := x*x + y*y + z*z + w*w
	if n == 0 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	s := 2 / n
	return mat.NewDense(3, 3, []float64{
		1 - s*(y*y+z*z), s * (x*y - z*w), s * (x*z + y*w),
		s * (x*y + z*w), 1 - s*(x*x+z*z), s * (y*z - x*w),
		s * (x*z - y*w), s * (y*z + x*w), 1 - s*(x*x+y*y),
	})
}

// MatToQuat is the inverse of QuatToMat for proper rotations. The returned
// quaternion is scalar-last with w >= 0.
func MatToQuat(r mat.Matrix) (x, y, z, w float64) {
	m00, m11, m22 := r.At(0, 0), r.At(1, 1), r.At(2, 2)
	tr := m00 + m11 + m22
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = s / 4
		x = (r.At(2, 1) - r.At(1, 2)) / s
		y = (r.At(0, 2) - r.At(2, 0)) / s
		z = (r.At(1, 0) - r.At(0, 1)) / s
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		w = (r.At(2, 1) - r.At(1, 2)) / s
		x = s / 4
		y = (r.At(0, 1) + r.At(1, 0)) / s
		z = (r.At(0, 2) + r.At(2, 0)) / s
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		w = (r.At(0, 2) - r.At(2, 0)) / s
		x = (r.At(0, 1) + r.At(1, 0)) / s
		y = s / 4
		z = (r.At(1, 2) + r.At(2, 1)) / s
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		w = (r.At(1, 0) - r.At(0, 1)) / s
		x = (r.At(0, 2) + r.At(2, 0)) / s
		y = (r.At(1, 2) + r.At(2, 1)) / s
		z = s / 4
	}
	if w < 0 {
		x, y, z, w = -x, -y, -z, -w
	}
	return x, y, z, w
}

// DecodePose turns one 9-float pose encoding into a Camera for an image of
// height h and width w. The principal point is the image center.
func DecodePose(enc []float32, h, w int) (Camera, error) {
	if len(enc) != PoseEncodingSize {
		return Camera{}, fmt.Errorf("pose encoding has %d values, want %d", len(enc), PoseEncodingSize)
	}
	fovH, fovW := float64(enc[7]), float64(enc[8])
	if fovH <= 0 || fovW <= 0 || fovH >= math.Pi || fovW >= math.Pi {
		return Camera{}, fmt.Errorf("field of view out of range: fov_h=%v fov_w=%v", fovH, fovW)
	}
	r := QuatToMat(float64(enc[3]), float64(enc[4]), float64(enc[5]), float64(enc[6]))
	ext := mat.NewDense(3, 4, nil)
	ext.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
	ext.Set(0, 3, float64(enc[0]))
	ext.Set(1, 3, float64(enc[1]))
	ext.Set(2, 3, float64(enc[2]))

	fy := (float64(h) / 2) / math.Tan(fovH/2)
	fx := (float64(w) / 2) / math.Tan(fovW/2)
	k := mat.NewDense(3, 3, []float64{
		fx, 0, float64(w) / 2,
		0, fy, float64(h) / 2,
		0, 0, 1,
	})
	return Camera{Extrinsic: ext, Intrinsic: k}, nil
}

// DecodePoses decodes a flat [views][9] encoding.
func DecodePoses(enc []float32, views, h, w int) ([]Camera, error) {
	if len(enc) != views*PoseEncodingSize {
		return nil, fmt.Errorf("pose encoding length %d, want %d for %d views", len(enc), views*PoseEncodingSize, views)
	}
	cams := make([]Camera, views)
	for i := range cams {
		c, err := DecodePose(enc[i*PoseEncodingSize:(i+1)*PoseEncodingSize], h, w)
		if err != nil {
			return nil, fmt.Errorf("view %d: %w", i, err)
		}
		cams[i] = c
	}
	return cams, nil
}

// EncodePose is the inverse of DecodePose for cameras whose principal point
// sits at the image center.
func EncodePose(c Camera, h, w int) []float32 {
	x, y, z, qw := MatToQuat(c.Rotation())
	t := c.Translation()
	fy, fx := c.Intrinsic.At(1, 1), c.Intrinsic.At(0, 0)
	fovH := 2 * math.Atan((float64(h)/2)/fy)
	fovW := 2 * math.Atan((float64(w)/2)/fx)
	return []float32{
		float32(t.X), float32(t.Y), float32(t.Z),
		float32(x), float32(y), float32(z), float32(qw),
		float32(fovH), float32(fovW),
	}
}

// InvertSE3 returns the 3x4 inverse [Rᵀ | -Rᵀt] of a 3x4 rigid transform.
func InvertSE3(ext mat.Matrix) *mat.Dense {
	var rt mat.Dense
	rt.CloneFrom(mat.DenseCopyOf(ext).Slice(0, 3, 0, 3).T())
	t := mat.NewVecDense(3, []float64{ext.At(0, 3), ext.At(1, 3), ext.At(2, 3)})
	var nt mat.VecDense
	nt.MulVec(&rt, t)
	nt.ScaleVec(-1, &nt)
	out := mat.NewDense(3, 4, nil)
	out.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&rt)
	out.Set(0, 3, nt.AtVec(0))
	out.Set(1, 3, nt.AtVec(1))
	out.Set(2, 3, nt.AtVec(2))
	return out
}

// Project maps a world point into pixel coordinates of c and also returns
// its depth along the optical axis.
func Project(c Camera, p r3.Vector) (u, v, depth float64) {
	e := c.Extrinsic
	xc := e.At(0, 0)*p.X + e.At(0, 1)*p.Y + e.At(0, 2)*p.Z + e.At(0, 3)
	yc := e.At(1, 0)*p.X + e.At(1, 1)*p.Y + e.At(1, 2)*p.Z + e.At(1, 3)
	zc := e.At(2, 0)*p.X + e.At(2, 1)*p.Y + e.At(2, 2)*p.Z + e.At(2, 3)
	k := c.Intrinsic
	u = k.At(0, 0)*xc/zc + k.At(0, 2)
	v = k.At(1, 1)*yc/zc + k.At(1, 2)
	return u, v, zc
}
