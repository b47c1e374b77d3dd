package model

import "recon3d/internal/device"

// ONNXName is the registry name of the ONNX Runtime backend.
const ONNXName = "onnx"

// ONNXOptions configure the ONNX Runtime backend.
type ONNXOptions struct {
	// LibraryPath points at libonnxruntime; empty uses the loader default.
	LibraryPath string
	// Threads bounds intra-op parallelism; 0 keeps the runtime default.
	Threads int
}

// Stage graph files expected in the weights directory.
const (
	onnxCameraFile = "camera_head.onnx"
	onnxDepthFile  = "depth_head.onnx"
	onnxPointFile  = "point_head.onnx"
	onnxTrackFile  = "track_head.onnx"
)

// onnxAggregatorFile names the aggregator graph exported for precision p.
func onnxAggregatorFile(p device.Precision) string {
	if p == "" {
		p = device.Float16
	}
	return "aggregator_" + string(p) + ".onnx"
}

func onnxRequiredFiles(p device.Precision) []string {
	return []string{onnxAggregatorFile(p), onnxCameraFile, onnxDepthFile, onnxPointFile, onnxTrackFile}
}
