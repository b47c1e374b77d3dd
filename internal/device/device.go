// Package device picks the compute device and numeric precision used for
// inference. Selection is a pure function of a hardware Report plus optional
// overrides; probing the host lives in probe.go.
package device

import (
	"fmt"
	"strings"
)

// Device identifies where inference runs.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// Precision is the reduced-precision mode used for the aggregation stage.
type Precision string

const (
	BFloat16 Precision = "bfloat16"
	Float16  Precision = "float16"
	Float32  Precision = "float32"
)

// BFloat16MinMajor is the lowest compute-capability major version with
// native bfloat16 support (Ampere, 8.0).
const BFloat16MinMajor = 8

// Report describes the accelerator found on the host. The zero value means
// no accelerator.
type Report struct {
	Accelerator  bool
	Name         string
	ComputeMajor int
	ComputeMinor int
}

// Capability renders the compute capability as "major.minor".
func (r Report) Capability() string {
	if !r.Accelerator {
		return ""
	}
	return fmt.Sprintf("%d.%d", r.ComputeMajor, r.ComputeMinor)
}

// Overrides force a device or precision. Empty fields mean auto.
type Overrides struct {
	Device    Device
	Precision Precision
}

// Selection is the outcome of Select.
type Selection struct {
	Device    Device
	Precision Precision
	Report    Report
}

// Select chooses device and precision for the given hardware report.
//
//	accelerator, major >= 8 -> cuda, bfloat16
//	accelerator, major <  8 -> cuda, float16
//	no accelerator          -> cpu,  float16
//
// Overrides replace the computed values field by field.
func Select(r Report, o Overrides) Selection {
	sel := Selection{Device: CPU, Precision: Float16, Report: r}
	if r.Accelerator {
		sel.Device = CUDA
		if r.ComputeMajor >= BFloat16MinMajor {
			sel.Precision = BFloat16
		}
	}
	if o.Device != "" {
		sel.Device = o.Device
	}
	if o.Precision != "" {
		sel.Precision = o.Precision
	}
	return sel
}

// ParseDevice maps a user-supplied name to a Device. "" and "auto" return
// the empty Device (no override).
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "cpu":
		return CPU, nil
	case "cuda", "gpu":
		return CUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto|cpu|cuda)", s)
	}
}

// ParsePrecision maps a user-supplied name to a Precision. "" and "auto"
// return the empty Precision (no override).
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "float16", "fp16", "half":
		return Float16, nil
	case "float32", "fp32":
		return Float32, nil
	default:
		return "", fmt.Errorf("unknown precision %q (want auto|bfloat16|float16|float32)", s)
	}
}
