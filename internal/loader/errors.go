package loader

import "errors"

// Loader errors.
var (
	// ErrFunctionNotFound is returned when the entry file is missing or
	// the target symbol cannot be resolved in the loaded unit.
	ErrFunctionNotFound = errors.New("loader: function not found")

	// ErrExecutionTimeout is returned when an isolated-mode subprocess
	// outlives its timeout and is killed.
	ErrExecutionTimeout = errors.New("loader: execution timed out")

	// ErrExecutionFailed is returned when a command fails: non-zero
	// exit, unparseable output, an error-status result, or a handler
	// error. The wrapped message carries the inner error or stderr.
	ErrExecutionFailed = errors.New("loader: execution failed")
)
