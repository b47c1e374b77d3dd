package pipeline

// Event represents a pipeline lifecycle event.
// Minimal and stable: name + run ID and optional fields via key/values.
type Event struct {
	Name   string
	RunID  string
	Stage  string
	Fields map[string]any
}

// Event names.
const (
	EventStageStart   = "stage_start"
	EventStageDone    = "stage_done"
	EventStageSkipped = "stage_skipped"
	EventStageError   = "stage_error"
	EventRunDone      = "run_done"
)

// EventPublisher receives events from the runner. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
