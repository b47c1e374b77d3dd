package pipeline

import "github.com/rs/zerolog"

// LogPublisher writes every event as a structured log line. Errors are
// logged at error level, everything else at debug.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Logger.Debug()
	if e.Name == EventStageError {
		ev = p.Logger.Error()
	}
	ev = ev.Str("event", e.Name).Str("run_id", e.RunID)
	if e.Stage != "" {
		ev = ev.Str("stage", e.Stage)
	}
	ev.Fields(e.Fields).Msg("pipeline")
}

// MultiPublisher fans an event out to several publishers.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
