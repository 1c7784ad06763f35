package jpeg

import (
	"errors"
	"fmt"
)

// Errors returned by Session.
var (
	ErrArgument    = errors.New("jpeg: invalid argument")
	ErrInvalidData = errors.New("jpeg: invalid data")
	ErrUnsupported = errors.New("jpeg: unsupported")
	ErrAborted     = errors.New("jpeg: session aborted by a previous failure, Reset required")
	ErrBusy        = errors.New("jpeg: session already has a call in flight")
	ErrClosed      = errors.New("jpeg: session closed")
)

// EngineError reports a condition the codec engine could not recover from.
// Op names the engine step (read_header, start_compress, ...).
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("jpeg: engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func engineErr(op string, kind error, format string, args ...any) error {
	return &EngineError{Op: op, Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}
