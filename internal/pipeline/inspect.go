package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"
)

// StageSummary describes a finished stage for an Inspector.
type StageSummary struct {
	RunID    string
	Stage    string
	Took     time.Duration
	Produced map[Artifact]string
}

// Inspector is called after every completed stage. Returning an error
// aborts the run.
type Inspector interface {
	AfterStage(ctx context.Context, s StageSummary) error
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(ctx context.Context, s StageSummary) error

func (f InspectorFunc) AfterStage(ctx context.Context, s StageSummary) error { return f(ctx, s) }

// PauseInspector prints each stage summary to Out and waits for a line on
// In before the run continues. At most one read of In is outstanding: a read
// abandoned by a cancelled context is reused by the next pause, so the line
// it eventually returns confirms that pause.
type PauseInspector struct {
	In  io.Reader
	Out io.Writer

	r       *bufio.Reader
	pending chan error
}

func (p *PauseInspector) AfterStage(ctx context.Context, s StageSummary) error {
	fmt.Fprintf(p.Out, "[debug] %s done in %s\n", s.Stage, s.Took.Round(time.Millisecond))
	for _, a := range sortedArtifacts(s.Produced) {
		fmt.Fprintf(p.Out, "  %s: %s\n", a, s.Produced[a])
	}
	fmt.Fprint(p.Out, "press Enter to continue ")
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	if p.pending == nil {
		done := make(chan error, 1)
		go func() {
			_, err := p.r.ReadString('\n')
			done <- err
		}()
		p.pending = done
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.pending:
		p.pending = nil
		if err != nil && err != io.EOF {
			return fmt.Errorf("debug pause: %w", err)
		}
		return nil
	}
}
