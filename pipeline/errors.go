package pipeline

import (
	"fmt"

	"github.com/Teng-xu/tensorflow-1/ir/parser"
)

// The pipeline surfaces four error kinds, all terminal for the current
// Compile call. There is no retry policy and no partial result: callers must
// discard the module on any error.

// ParseError is returned for malformed input text, before any stage runs.
type ParseError = parser.Error

// ConfigurationError reports a required build-time capability that is absent,
// e.g. no device backend linked into the binary.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// StageError reports that a named stage's step sequence did not reach a valid
// fixed point. The message is stage-specific and stable; Err carries the
// underlying cause.
type StageError struct {
	// Stage is the name of the failing stage.
	Stage string

	// Message is the stage's fixed failure message, e.g.
	// "Lowering TF to loops failed.".
	Message string

	// Err is the underlying cause.
	Err error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// BackendError reports that the device-code compiler rejected the input or
// the requested architecture.
type BackendError struct {
	// Msg is the stable failure message, "Generating device code failed".
	Msg string

	// Err is the underlying backend error, if any.
	Err error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
