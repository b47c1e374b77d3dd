// Package pointcloud persists unordered 3D point sets. The encoder is chosen
// from the file extension: .ply (binary little-endian or ASCII) or .xyz.
package pointcloud

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"

	"recon3d/internal/common/fsutil"
)

// Format is an on-disk point cloud encoding.
type Format string

const (
	FormatPLY Format = "ply"
	FormatXYZ Format = "xyz"
)

// Options tune the encoder.
type Options struct {
	// ASCII writes PLY as text instead of binary little-endian.
	ASCII bool
	// Comment is embedded in the PLY header when set.
	Comment string
}

// FormatFor maps a file name to its Format.
func FormatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ply":
		return FormatPLY, nil
	case ".xyz":
		return FormatXYZ, nil
	default:
		return "", fmt.Errorf("unsupported point cloud extension: %q (want .ply or .xyz)", ext)
	}
}

// Write stores points at path. The file appears atomically: either the
// complete cloud is written or the previous content is left unchanged.
func Write(path string, points []r3.Vector, opts Options) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, 1<<20)
		if err := Encode(bw, f, points, opts); err != nil {
			return err
		}
		return bw.Flush()
	})
}

// Encode writes points to w in format f.
func Encode(w io.Writer, f Format, points []r3.Vector, opts Options) error {
	switch f {
	case FormatPLY:
		return writePLY(w, points, opts)
	case FormatXYZ:
		return writeXYZ(w, points)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// Read loads the points stored at path.
func Read(path string) ([]r3.Vector, error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(bufio.NewReader(fh), f)
}

// Decode parses points from r in format f.
func Decode(r *bufio.Reader, f Format) ([]r3.Vector, error) {
	switch f {
	case FormatPLY:
		return readPLY(r)
	case FormatXYZ:
		return readXYZ(r)
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}
