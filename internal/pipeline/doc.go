// Package pipeline sequences one reconstruction pass over a model session.
// It is structured into small files by concern:
//
//   - plan.go: artifacts, stages and the validated default Plan.
//   - runner.go: Runner (lazy session open, single in-flight run) and Run.
//   - stages.go: the stage implementations operating on run state.
//   - errors.go: error types and helpers (IsBusy, IsQueryOutOfBounds, StageError).
//   - events.go, eventpub_*.go: lifecycle events and publishers.
//   - inspect.go: per-stage Inspector hook and the interactive PauseInspector.
//   - metrics.go: prometheus instrumentation.
//
// A run is strictly linear: load_images, aggregate, camera, depth, points,
// unproject, save and the optional track stage. Nothing is retried.
package pipeline
