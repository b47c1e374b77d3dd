//go:build !onnx

package model

// This file provides a no-CGO stub for the ONNX backend. It is compiled when
// the 'onnx' build tag is NOT set. The real backend lives in onnx.go.

import (
	"context"

	"recon3d/internal/device"
)

type onnxBackend struct{ opts ONNXOptions }

// NewONNXBackend returns a backend that refuses to open sessions because
// ONNX Runtime support was not compiled in.
func NewONNXBackend(opts ONNXOptions) Backend { return &onnxBackend{opts: opts} }

func (b *onnxBackend) Name() string { return ONNXName }

// RequiredFiles is empty so nothing is downloaded for a backend that can
// never open.
func (b *onnxBackend) RequiredFiles(device.Precision) []string { return nil }

func (b *onnxBackend) Open(ctx context.Context, weightsDir string, sel device.Selection) (Session, error) {
	return nil, ErrDependencyUnavailable("onnx support not built (missing 'onnx' build tag)")
}
