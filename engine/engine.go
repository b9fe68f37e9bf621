// Package engine adapts the external test-execution engine to the canonical
// result model.
//
// The engine is `go test -json` run against a workspace module. Its test2json
// event stream is normalized into a types.ExecutionResult, with optional
// fields decided once here rather than by every consumer downstream.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-sanity/types"
	"github.com/ethereum-optimism/infra/op-sanity/workspace"
)

// Invocation describes one attempt of a run.
type Invocation struct {
	Workspace *workspace.Workspace
	RunID     string
	Variables types.Variables
	Attempt   int
}

// Engine executes the test files of a workspace and returns their results.
// An *ExecutionError is returned when the engine itself could not run; test
// failures are reported through the result.
type Engine interface {
	Execute(ctx context.Context, inv Invocation) (*types.ExecutionResult, error)
}

// CaseContext is handed to a CaseObserver for every collected case.
type CaseContext struct {
	File         *types.FileResult
	Case         *types.CaseResult
	ArtifactRoot string
	PackageDir   string
}

// CaseObserver is notified about each case while results are collected,
// before the result leaves the adapter.
type CaseObserver interface {
	OnCase(ctx context.Context, cc CaseContext)
}

// ExecutionError signals that the engine failed to run at all, as opposed to
// a test that ran and failed.
type ExecutionError struct {
	Attempt int
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution engine error (attempt %d): %v", e.Attempt, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(attempt int, err error) *ExecutionError {
	return &ExecutionError{Attempt: attempt, Err: err}
}

// IsExecutionError checks if the error is or wraps an ExecutionError
func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return err != nil && errors.As(err, &execErr)
}
