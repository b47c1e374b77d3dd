// Package imageio enumerates an image directory and turns its files into a
// model-ready Batch.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNoImages is returned when the source directory holds no files.
var ErrNoImages = errors.New("at least 1 image is required")

// decodeError reports a file in the batch that is not a readable image.
type decodeError struct {
	path string
	err  error
}

func (e decodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.path, e.err) }
func (e decodeError) Unwrap() error { return e.err }

// IsDecodeError reports whether err came from a file that could not be
// decoded as an image.
func IsDecodeError(err error) bool {
	var de decodeError
	return errors.As(err, &de)
}

// Mode selects how images are fitted to the model resolution.
type Mode string

const (
	// ModeCrop resizes to TargetSize wide and center-crops the height.
	ModeCrop Mode = "crop"
	// ModePad resizes the longest side to TargetSize and pads to a square.
	ModePad Mode = "pad"
)

const (
	// TargetSize is the model's input resolution.
	TargetSize = 518
	// PatchSize is the model's patch edge; resized sides are multiples of it.
	PatchSize = 14
)

// ListDir returns the files of dir in directory-listing order. No extension
// filter is applied; sub-directories are skipped.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoImages)
	}
	return out, nil
}

// LoadAndPreprocess decodes every path and returns a Batch. Images whose
// fitted sizes differ are padded with white to the largest height and width.
// Any unreadable file fails the whole batch.
func LoadAndPreprocess(paths []string, mode Mode) (*Batch, error) {
	if len(paths) == 0 {
		return nil, ErrNoImages
	}
	if mode == "" {
		mode = ModeCrop
	}
	if mode != ModeCrop && mode != ModePad {
		return nil, fmt.Errorf("invalid preprocess mode %q (want crop|pad)", mode)
	}
	views := make([]*planar, 0, len(paths))
	maxH, maxW := 0, 0
	for _, p := range paths {
		img, err := decodeFile(p)
		if err != nil {
			return nil, err
		}
		v := fit(img, mode)
		if v.h > maxH {
			maxH = v.h
		}
		if v.w > maxW {
			maxW = v.w
		}
		views = append(views, v)
	}
	b := &Batch{
		Paths:  append([]string(nil), paths...),
		Views:  len(views),
		Height: maxH,
		Width:  maxW,
		Data:   make([]float32, len(views)*3*maxH*maxW),
	}
	for i, v := range views {
		v.padInto(b.View(i), maxH, maxW)
	}
	return b, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, decodeError{path: path, err: err}
	}
	return img, nil
}

// planar holds one view as [3][h][w] floats.
type planar struct {
	h, w int
	data []float32
}

// padInto copies p centered into dst ([3][h][w]) filling the border with 1.0.
func (p *planar) padInto(dst []float32, h, w int) {
	for i := range dst {
		dst[i] = 1
	}
	top := (h - p.h) / 2
	left := (w - p.w) / 2
	for c := 0; c < 3; c++ {
		for y := 0; y < p.h; y++ {
			src := p.data[(c*p.h+y)*p.w : (c*p.h+y+1)*p.w]
			off := (c*h+top+y)*w + left
			copy(dst[off:off+p.w], src)
		}
	}
}

// roundToPatch mirrors round(x / 14) * 14 with half-to-even rounding.
func roundToPatch(x float64) int {
	return int(math.RoundToEven(x/PatchSize)) * PatchSize
}

func fit(img image.Image, mode Mode) *planar {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Composite onto white so transparent pixels do not turn black.
	flat := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, bounds.Min, draw.Over)

	var newW, newH int
	if mode == ModePad && height > width {
		newH = TargetSize
		newW = roundToPatch(float64(width) * (float64(TargetSize) / float64(height)))
	} else {
		newW = TargetSize
		newH = roundToPatch(float64(height) * (float64(TargetSize) / float64(width)))
	}
	if newW < PatchSize {
		newW = PatchSize
	}
	if newH < PatchSize {
		newH = PatchSize
	}
	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(resized, resized.Bounds(), flat, flat.Bounds(), xdraw.Src, nil)

	// Crop mode keeps at most TargetSize rows from the center.
	y0, outH := 0, newH
	if mode == ModeCrop && newH > TargetSize {
		y0 = (newH - TargetSize) / 2
		outH = TargetSize
	}
	p := &planar{h: outH, w: newW, data: make([]float32, 3*outH*newW)}
	for y := 0; y < outH; y++ {
		row := resized.Pix[(y0+y)*resized.Stride:]
		for x := 0; x < newW; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				p.data[(c*outH+y)*newW+x] = float32(px[c]) / 255
			}
		}
	}
	if mode == ModePad {
		sq := &planar{h: TargetSize, w: TargetSize, data: make([]float32, 3*TargetSize*TargetSize)}
		p.padInto(sq.data, TargetSize, TargetSize)
		return sq
	}
	return p
}
