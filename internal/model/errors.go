package model

import "errors"

// dependencyUnavailableError signals a runtime the binary cannot reach
// (library not built in, server down).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// shapeMismatchError signals a stage output that disagrees with its inputs.
type shapeMismatchError struct{ msg string }

func (e shapeMismatchError) Error() string { return "shape mismatch: " + e.msg }

// ErrShapeMismatch constructs a shapeMismatchError.
func ErrShapeMismatch(msg string) error { return shapeMismatchError{msg: msg} }

// IsShapeMismatch reports whether err is a shape mismatch.
func IsShapeMismatch(err error) bool {
	var e shapeMismatchError
	return errors.As(err, &e)
}

// unknownBackendError is returned by Registry.Get.
type unknownBackendError struct{ name string }

func (e unknownBackendError) Error() string { return "unknown model backend: " + e.name }

// IsUnknownBackend reports whether err names a backend that is not registered.
func IsUnknownBackend(err error) bool {
	var e unknownBackendError
	return errors.As(err, &e)
}

// ErrForeignTokens is returned when a session receives tokens it did not produce.
var ErrForeignTokens = errors.New("tokens were not produced by this session")
