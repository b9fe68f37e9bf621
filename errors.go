package sanity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/exitcodes"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, an engine that cannot start, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents test files that still failed after their
// retries (exit code 1)
type TestFailureError struct {
	Files []string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d test file(s) failed: %s", len(e.Files), strings.Join(e.Files, ", "))
}

// NewTestFailureError creates a new TestFailureError for the failed files.
func NewTestFailureError(files []string) *TestFailureError {
	return &TestFailureError{Files: files}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps the error returned by a command onto its process exit code.
// Engine failures count as runtime errors; anything unclassified is treated
// as a test failure.
func ExitCode(err error) int {
	var exitErr cli.ExitCoder
	switch {
	case err == nil:
		return exitcodes.Success
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	case IsRuntimeError(err), engine.IsExecutionError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
