package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-sanity/alerts"
	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/metrics"
	"github.com/ethereum-optimism/infra/op-sanity/reporting"
	"github.com/ethereum-optimism/infra/op-sanity/types"
	"github.com/ethereum-optimism/infra/op-sanity/workspace"
)

const msgMissingFromEngine = "no results reported for test file"

// Config holds configuration for creating a new Runner
type Config struct {
	Engine     engine.Engine
	Dispatcher *alerts.Dispatcher // nil disables alert delivery
	Routing    alerts.Routing
	Log        log.Logger

	WorkspaceRoot    string // parent of run workspaces; os.TempDir when empty
	WorkspaceOptions workspace.Options
	OutputDir        string    // JUnit reports are written here when set
	LogSink          io.Writer // structured log lines; os.Stdout when nil
}

// Runner runs test files through the engine with retries and reports the
// outcome. A Runner may serve many runs, one at a time per call.
type Runner struct {
	engine     engine.Engine
	dispatcher *alerts.Dispatcher
	routing    alerts.Routing
	log        log.Logger
	wsRoot     string
	wsOptions  workspace.Options
	outputDir  string
	sink       io.Writer
	tracer     trace.Tracer
}

// Report is everything a run produced.
type Report struct {
	Aggregate *types.AggregateRunResult
	Records   []reporting.LogRecord
	JUnit     *reporting.JUnitDocument
	JUnitPath string
	Decisions []alerts.Decision
	Duration  time.Duration
}

// Passed reports the run's overall success flag.
func (r *Report) Passed() bool {
	return r != nil && r.Aggregate != nil && r.Aggregate.Success()
}

// New creates a new Runner
func New(cfg Config) (*Runner, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.LogSink == nil {
		cfg.LogSink = os.Stdout
	}
	return &Runner{
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		routing:    cfg.Routing,
		log:        cfg.Log,
		wsRoot:     cfg.WorkspaceRoot,
		wsOptions:  cfg.WorkspaceOptions,
		outputDir:  cfg.OutputDir,
		sink:       cfg.LogSink,
		tracer:     otel.Tracer("sanity runner"),
	}, nil
}

// RunTests executes one run. Test failures are reported through the Report.
// A non-nil error means the run could not complete normally: when the
// engine failed the Report is still returned, with every file recorded as
// errored, and alerts have been dispatched; when the workspace could not be
// written no Report is produced.
func (r *Runner) RunTests(ctx context.Context, cfg types.RunConfiguration) (*Report, error) {
	start := time.Now()
	if len(cfg.TestFiles) == 0 {
		return nil, errors.New("no test files provided")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.ExecutionID == "" {
		cfg.ExecutionID = uuid.New().String()
	}
	lgr := r.log.New("run_id", cfg.RunID, "execution_id", cfg.ExecutionID)

	ctx, span := r.tracer.Start(ctx, "run tests")
	span.SetAttributes(
		attribute.String("run_id", cfg.RunID),
		attribute.String("execution_id", cfg.ExecutionID),
		attribute.Int("test_files", len(cfg.TestFiles)),
	)
	defer span.End()

	ws, err := workspace.New(r.wsRoot, cfg, r.wsOptions)
	if err != nil {
		metrics.RecordErrorDetails("workspace", err)
		return nil, fmt.Errorf("failed to prepare workspace: %w", err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			lgr.Warn("Failed to remove workspace", "dir", ws.Dir(), "error", err)
		}
	}()
	lgr.Info("Running tests", "files", len(cfg.TestFiles), "maxRetries", cfg.MaxRetries, "workspace", ws.Dir())

	result, retryCount, execErr := RunWithRetry(ctx, func(ctx context.Context, attempt int) (*types.ExecutionResult, error) {
		metrics.RecordAttempt(attempt)
		return r.engine.Execute(ctx, engine.Invocation{
			Workspace: ws,
			RunID:     cfg.RunID,
			Variables: cfg.Variables,
			Attempt:   attempt,
		})
	}, cfg.MaxRetries, lgr)

	names := cfg.FileNames()
	if execErr != nil {
		metrics.RecordErrorDetails("engine", execErr)
		result = &types.ExecutionResult{Success: false}
		result.EnsureFiles(names, execErr.Error())
	} else {
		result.EnsureFiles(names, msgMissingFromEngine)
	}

	agg := types.NewAggregate(cfg, result, retryCount)
	if execErr != nil {
		agg.EngineError = execErr.Error()
	}

	report := &Report{Aggregate: agg}
	r.report(ctx, lgr, cfg, report)

	report.Duration = time.Since(start)
	r.recordMetrics(agg, report.Duration)
	lgr.Info("Test run completed", "success", agg.Success(), "failed", agg.NumFailed,
		"skipped", agg.NumSkipped, "retryCount", agg.RetryCount, "duration", report.Duration)

	if execErr != nil {
		return report, execErr
	}
	return report, nil
}

// report formats, persists and alerts on the aggregate. Nothing here fails
// the run; problems are logged.
func (r *Runner) report(ctx context.Context, lgr log.Logger, cfg types.RunConfiguration, report *Report) {
	agg := report.Aggregate

	report.Records = reporting.Format(agg)
	if err := reporting.WriteLogRecords(r.sink, report.Records); err != nil {
		metrics.RecordErrorDetails("log_records", err)
		lgr.Error("Failed to write log records", "error", err)
	}

	report.JUnit = reporting.ToJUnit(agg)
	if r.outputDir != "" {
		path, err := reporting.WriteDocument(r.outputDir, agg.ExecutionID, report.JUnit)
		if err != nil {
			metrics.RecordErrorDetails("junit", err)
			lgr.Error("Failed to write JUnit report", "error", err)
		} else {
			report.JUnitPath = path
			lgr.Info("Wrote JUnit report", "path", path)
		}
	}

	decisions, warnings, err := alerts.Decide(cfg, agg, r.routing)
	for _, w := range warnings {
		lgr.Warn(w)
	}
	if err != nil {
		metrics.RecordErrorDetails("alerts", err)
		lgr.Error("Failed to decide alerts", "error", err)
		return
	}
	report.Decisions = decisions
	if r.dispatcher == nil {
		return
	}
	if err := r.dispatcher.Dispatch(ctx, decisions); err != nil {
		lgr.Warn("Some alerts could not be delivered", "error", err)
	}
}

func (r *Runner) recordMetrics(agg *types.AggregateRunResult, d time.Duration) {
	for _, f := range agg.Result.Files {
		result := "passed"
		switch {
		case f.HasError():
			result = "error"
		case f.NumFailed > 0:
			result = "failed"
		}
		metrics.RecordTestFile(types.TestName(f.File), result)
	}
	result := "passed"
	if !agg.Success() {
		result = "failed"
	}
	metrics.RecordRun(result, agg.NumFailed, d)
}
