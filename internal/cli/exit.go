package cli

import (
	"errors"
	"fmt"
)

// Process exit codes. The serve loop and fixture commands distinguish a
// runtime failure from a bad invocation so harness scripts can branch on
// the code alone.
const (
	ExitSuccess      = 0 // clean exit
	ExitFailure      = 1 // serve loop error, broken or missing fixture
	ExitCommandError = 2 // bad invocation: unloadable fixture on startup, invalid flags
)

// ExitError pairs a failure with the code the process should exit with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError attaches an exit code and context to a failure.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error to the process exit code, defaulting to
// ExitFailure for anything that never picked a code of its own.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
