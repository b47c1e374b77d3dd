package pipeline

import (
	"errors"
	"fmt"
)

// busyError signals that another run holds the single in-flight slot.
type busyError struct{}

func (busyError) Error() string { return "busy: a reconstruction is already running" }

// ErrBusy is returned by Run when another run is in flight.
var ErrBusy error = busyError{}

// IsBusy reports whether err indicates a concurrent run (return 429).
func IsBusy(err error) bool {
	var e busyError
	return errors.As(err, &e)
}

// queryOutOfBoundsError reports a query pixel outside the image batch.
type queryOutOfBoundsError struct {
	index         int
	x, y          float64
	width, height int
}

func (e queryOutOfBoundsError) Error() string {
	return fmt.Sprintf("query point %d (%g, %g) outside image bounds %dx%d", e.index, e.x, e.y, e.width, e.height)
}

// ErrQueryOutOfBounds constructs a queryOutOfBoundsError.
func ErrQueryOutOfBounds(index int, x, y float64, width, height int) error {
	return queryOutOfBoundsError{index: index, x: x, y: y, width: width, height: height}
}

// IsQueryOutOfBounds reports whether err rejects a query point.
func IsQueryOutOfBounds(err error) bool {
	var e queryOutOfBoundsError
	return errors.As(err, &e)
}

// StageError attributes a failure to the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage name carried by err, or "".
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
