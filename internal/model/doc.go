// Package model is the call contract between the pipeline and the pretrained
// multi-view geometry network. The network itself is never implemented here;
// a Backend opens a Session that exposes the network's stages:
//
//   - Aggregate: fuse per-view image features into a joint token set.
//   - Camera: predict one pose encoding per view.
//   - Depth: predict per-pixel depth and confidence.
//   - Points: predict per-pixel world points and confidence.
//   - Track: follow 2D query points of the first view across all views.
//
// Backends:
//
//   - synthetic.go: deterministic analytic scene (fronto-parallel plane).
//     Always available; used by tests and dry runs.
//   - onnx.go: ONNX Runtime via github.com/yalue/onnxruntime_go. Built with
//     `-tags=onnx`; onnx_stub.go fails fast with ErrDependencyUnavailable
//     otherwise.
//   - remote.go: JSON over HTTP to an inference server that keeps tokens
//     server-side.
package model
