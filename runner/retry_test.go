package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

func scripted(results ...*types.ExecutionResult) (AttemptFunc, *[]int) {
	var calls []int
	return func(_ context.Context, attempt int) (*types.ExecutionResult, error) {
		calls = append(calls, attempt)
		if attempt < len(results) {
			return results[attempt], nil
		}
		return results[len(results)-1], nil
	}, &calls
}

func failing(tag string) *types.ExecutionResult {
	return &types.ExecutionResult{Success: false, Files: []*types.FileResult{{File: tag}}}
}

func passing(tag string) *types.ExecutionResult {
	return &types.ExecutionResult{Success: true, Files: []*types.FileResult{{File: tag}}}
}

func TestRunWithRetry(t *testing.T) {
	tests := []struct {
		name       string
		results    []*types.ExecutionResult
		maxRetries int
		wantCalls  int
		wantTag    string
		wantRetry  int
	}{
		{name: "first attempt passes", results: []*types.ExecutionResult{passing("a0")}, maxRetries: 3, wantCalls: 1, wantTag: "a0"},
		{name: "zero retries means one attempt", results: []*types.ExecutionResult{failing("a0")}, maxRetries: 0, wantCalls: 1, wantTag: "a0"},
		{name: "negative retries means one attempt", results: []*types.ExecutionResult{failing("a0")}, maxRetries: -2, wantCalls: 1, wantTag: "a0"},
		{name: "passes on retry", results: []*types.ExecutionResult{failing("a0"), passing("a1")}, maxRetries: 2, wantCalls: 2, wantTag: "a1", wantRetry: 1},
		{name: "last failure is authoritative", results: []*types.ExecutionResult{failing("a0"), failing("a1"), failing("a2")}, maxRetries: 2, wantCalls: 3, wantTag: "a2", wantRetry: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempt, calls := scripted(tt.results...)
			result, retryCount, err := RunWithRetry(context.Background(), attempt, tt.maxRetries, log.NewLogger(log.DiscardHandler()))
			require.NoError(t, err)
			assert.Len(t, *calls, tt.wantCalls)
			assert.Equal(t, tt.wantTag, result.Files[0].File)
			assert.Equal(t, tt.wantRetry, retryCount)
			assert.Equal(t, len(*calls)-1, retryCount)
		})
	}
}

func TestRunWithRetry_ExecutionErrorAborts(t *testing.T) {
	calls := 0
	attempt := func(_ context.Context, attempt int) (*types.ExecutionResult, error) {
		calls++
		if attempt == 1 {
			return nil, errors.New("go: command not found")
		}
		return failing("a0"), nil
	}

	result, retryCount, err := RunWithRetry(context.Background(), attempt, 5, log.NewLogger(log.DiscardHandler()))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, retryCount)

	var execErr *engine.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.Attempt)
	assert.Contains(t, err.Error(), "command not found")
}

func TestRunWithRetry_KeepsEngineExecutionError(t *testing.T) {
	orig := engine.NewExecutionError(0, errors.New("malformed output"))
	_, _, err := RunWithRetry(context.Background(), func(context.Context, int) (*types.ExecutionResult, error) {
		return nil, orig
	}, 1, nil)
	assert.Same(t, orig, err)
}

func TestRunWithRetry_StopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := RunWithRetry(ctx, func(context.Context, int) (*types.ExecutionResult, error) {
		calls++
		cancel()
		return failing("a0"), nil
	}, 3, log.NewLogger(log.DiscardHandler()))
	require.Error(t, err)
	assert.True(t, engine.IsExecutionError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
