package pointcloud

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// appendPoint formats p as "x y z\n" with the shortest exact representation.
func appendPoint(buf []byte, p r3.Vector) []byte {
	buf = strconv.AppendFloat(buf, p.X, 'g', -1, 64)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, p.Y, 'g', -1, 64)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, p.Z, 'g', -1, 64)
	return append(buf, '\n')
}

func writeXYZ(w io.Writer, points []r3.Vector) error {
	buf := make([]byte, 0, 96)
	for _, p := range points {
		buf = appendPoint(buf[:0], p)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readXYZ(r *bufio.Reader) ([]r3.Vector, error) {
	var points []r3.Vector
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f := strings.Fields(text)
		if len(f) < 3 {
			return nil, fmt.Errorf("xyz line %d: want 3 values, got %d", line, len(f))
		}
		var v [3]float64
		for i := range v {
			x, err := strconv.ParseFloat(f[i], 64)
			if err != nil {
				return nil, fmt.Errorf("xyz line %d: %w", line, err)
			}
			v[i] = x
		}
		points = append(points, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
	}
	return points, sc.Err()
}
