package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

const (
	plyBinaryLE = "binary_little_endian"
	plyBinaryBE = "binary_big_endian"
	plyASCII    = "ascii"
)

func writePLY(w io.Writer, points []r3.Vector, opts Options) error {
	format := plyBinaryLE
	if opts.ASCII {
		format = plyASCII
	}
	var hdr strings.Builder
	hdr.WriteString("ply\n")
	fmt.Fprintf(&hdr, "format %s 1.0\n", format)
	if c := strings.TrimSpace(opts.Comment); c != "" {
		fmt.Fprintf(&hdr, "comment %s\n", strings.ReplaceAll(c, "\n", " "))
	}
	fmt.Fprintf(&hdr, "element vertex %d\n", len(points))
	hdr.WriteString("property double x\nproperty double y\nproperty double z\nend_header\n")
	if _, err := io.WriteString(w, hdr.String()); err != nil {
		return err
	}
	if opts.ASCII {
		buf := make([]byte, 0, 96)
		for _, p := range points {
			buf = appendPoint(buf[:0], p)
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return nil
	}
	var rec [24]byte
	for _, p := range points {
		binary.LittleEndian.PutUint64(rec[0:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(rec[8:], math.Float64bits(p.Y))
		binary.LittleEndian.PutUint64(rec[16:], math.Float64bits(p.Z))
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// plyProperty is one scalar vertex property.
type plyProperty struct {
	name string
	kind string
	size int
}

var plyScalarSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4, "double": 8, "float64": 8,
}

type plyHeader struct {
	format   string
	vertices int
	props    []plyProperty
}

func readPLYHeader(r *bufio.Reader) (plyHeader, error) {
	var h plyHeader
	line, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return h, fmt.Errorf("not a ply file")
	}
	inVertex := false
	seenVertex := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return h, fmt.Errorf("ply header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return h, fmt.Errorf("ply header: malformed format line")
			}
			h.format = fields[1]
		case "comment", "obj_info":
		case "element":
			if len(fields) != 3 {
				return h, fmt.Errorf("ply header: malformed element line %q", strings.TrimSpace(line))
			}
			if seenVertex {
				// Elements after vertex are not needed; stop collecting properties.
				inVertex = false
				continue
			}
			if fields[1] != "vertex" {
				return h, fmt.Errorf("ply header: element %q before vertex is not supported", fields[1])
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return h, fmt.Errorf("ply header: bad vertex count %q", fields[2])
			}
			h.vertices = n
			inVertex, seenVertex = true, true
		case "property":
			if !inVertex {
				continue
			}
			if len(fields) != 3 {
				return h, fmt.Errorf("ply header: list properties on vertex are not supported")
			}
			size, ok := plyScalarSizes[fields[1]]
			if !ok {
				return h, fmt.Errorf("ply header: unknown property type %q", fields[1])
			}
			h.props = append(h.props, plyProperty{name: fields[2], kind: fields[1], size: size})
		case "end_header":
			if !seenVertex {
				return h, fmt.Errorf("ply header: no vertex element")
			}
			switch h.format {
			case plyASCII, plyBinaryLE, plyBinaryBE:
			default:
				return h, fmt.Errorf("ply header: unsupported format %q", h.format)
			}
			return h, nil
		default:
			return h, fmt.Errorf("ply header: unexpected line %q", strings.TrimSpace(line))
		}
	}
}

func (h plyHeader) axes() (ix, iy, iz int, err error) {
	ix, iy, iz = -1, -1, -1
	for i, p := range h.props {
		switch p.name {
		case "x":
			ix = i
		case "y":
			iy = i
		case "z":
			iz = i
		}
	}
	if ix < 0 || iy < 0 || iz < 0 {
		return 0, 0, 0, fmt.Errorf("ply: vertex element lacks x/y/z properties")
	}
	return ix, iy, iz, nil
}

func readPLY(r *bufio.Reader) ([]r3.Vector, error) {
	h, err := readPLYHeader(r)
	if err != nil {
		return nil, err
	}
	ix, iy, iz, err := h.axes()
	if err != nil {
		return nil, err
	}
	points := make([]r3.Vector, h.vertices)
	vals := make([]float64, len(h.props))
	if h.format == plyASCII {
		for i := range points {
			line, err := r.ReadString('\n')
			if err != nil && !(err == io.EOF && line != "") {
				return nil, fmt.Errorf("ply vertex %d: %w", i, err)
			}
			fields := strings.Fields(line)
			if len(fields) < len(h.props) {
				return nil, fmt.Errorf("ply vertex %d: %d values, want %d", i, len(fields), len(h.props))
			}
			for j := range h.props {
				if vals[j], err = strconv.ParseFloat(fields[j], 64); err != nil {
					return nil, fmt.Errorf("ply vertex %d: %w", i, err)
				}
			}
			points[i] = r3.Vector{X: vals[ix], Y: vals[iy], Z: vals[iz]}
		}
		return points, nil
	}
	var order binary.ByteOrder = binary.LittleEndian
	if h.format == plyBinaryBE {
		order = binary.BigEndian
	}
	stride := 0
	for _, p := range h.props {
		stride += p.size
	}
	rec := make([]byte, stride)
	for i := range points {
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, fmt.Errorf("ply vertex %d: %w", i, err)
		}
		off := 0
		for j, p := range h.props {
			vals[j] = decodeScalar(order, p.kind, rec[off:off+p.size])
			off += p.size
		}
		points[i] = r3.Vector{X: vals[ix], Y: vals[iy], Z: vals[iz]}
	}
	return points, nil
}

func decodeScalar(order binary.ByteOrder, kind string, b []byte) float64 {
	switch kind {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(order.Uint16(b)))
	case "ushort", "uint16":
		return float64(order.Uint16(b))
	case "int", "int32":
		return float64(int32(order.Uint32(b)))
	case "uint", "uint32":
		return float64(order.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}
