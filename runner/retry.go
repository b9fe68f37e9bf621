package runner

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// AttemptFunc runs one attempt. attempt is 0 for the first try.
type AttemptFunc func(ctx context.Context, attempt int) (*types.ExecutionResult, error)

// RunWithRetry invokes attempt at most maxRetries+1 times, stopping at the
// first successful result. The result of the last attempt taken is returned
// whether it passed or failed, together with the number of retries consumed.
//
// An attempt error aborts the loop immediately and is returned as an
// *engine.ExecutionError; no further retries are consumed.
func RunWithRetry(ctx context.Context, attempt AttemptFunc, maxRetries int, lgr log.Logger) (*types.ExecutionResult, int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if lgr == nil {
		lgr = log.New()
	}
	tracer := otel.Tracer("retry coordinator")

	retryCount := 0
	for i := 0; ; i++ {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return nil, retryCount, engine.NewExecutionError(i, err)
			}
			retryCount++
			lgr.Warn("Test run failed, retrying", "attempt", i, "maxRetries", maxRetries)
		}

		attemptCtx, span := tracer.Start(ctx, "attempt")
		span.SetAttributes(attribute.Int("attempt", i), attribute.Int("max_retries", maxRetries))
		result, err := attempt(attemptCtx, i)
		span.End()

		if err != nil {
			var execErr *engine.ExecutionError
			if !errors.As(err, &execErr) {
				execErr = engine.NewExecutionError(i, err)
			}
			lgr.Error("Execution engine failed, aborting retries", "attempt", i, "error", execErr)
			return nil, retryCount, execErr
		}
		if result == nil {
			return nil, retryCount, engine.NewExecutionError(i, errors.New("engine returned no result"))
		}

		if result.Success || i == maxRetries {
			lgr.Debug("Retry loop finished", "attempt", i, "success", result.Success, "retryCount", retryCount)
			return result, retryCount, nil
		}
	}
}
