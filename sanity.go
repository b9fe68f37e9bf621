package sanity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-sanity/exitcodes"
	"github.com/ethereum-optimism/infra/op-sanity/reporting"
	"github.com/ethereum-optimism/infra/op-sanity/runner"
	"github.com/ethereum-optimism/infra/op-sanity/service"
	"github.com/ethereum-optimism/infra/op-sanity/testlist"
	"github.com/ethereum-optimism/infra/op-sanity/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// TestRunner runs one orchestrated run.
type TestRunner interface {
	RunTests(ctx context.Context, cfg types.RunConfiguration) (*runner.Report, error)
}

// sanity implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &sanity{}

// sanity runs the discovered test files locally, once or on an interval.
type sanity struct {
	ctx     context.Context
	config  *Config
	version string
	runner  TestRunner
	report  *runner.Report
	out     io.Writer
	svc     *service.Service // healthz and metrics, nil in tests

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*sanity, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating op-sanity with config",
		"testDir", config.TestDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"maxRetries", config.MaxRetries)

	testRunner, err := NewRunner(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}

	return &sanity{
		ctx:              ctx,
		config:           config,
		version:          version,
		runner:           testRunner,
		out:              os.Stdout,
		svc:              service.New(config.ServiceConfig()),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the test files immediately, then periodically at the configured
// interval unless in run-once mode.
// Start implements the cliapp.Lifecycle interface.
func (s *sanity) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			s.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	s.ctx = ctx
	s.done = make(chan struct{})
	s.running.Store(true)
	if s.svc != nil {
		s.svc.Start(ctx)
	}

	if s.config.RunOnce {
		s.config.Log.Info("Starting op-sanity in run-once mode")
	} else {
		s.config.Log.Info("Starting op-sanity in continuous mode", "interval", s.config.RunInterval)
	}

	if err := s.runTests(); err != nil {
		s.config.Log.Error("Runtime error running tests", "error", err)
		if s.config.RunOnce {
			return err
		}
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if s.config.RunOnce {
		s.config.Log.Info("Tests completed, exiting (run-once mode)")

		if failed := failedFiles(s.report); len(failed) > 0 {
			s.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(failed)
		}

		go func() {
			s.shutdownCallback(nil)
		}()
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.config.Log.Debug("Starting periodic test runner goroutine", "interval", s.config.RunInterval)

		for {
			select {
			case <-time.After(s.config.RunInterval):
				if !s.running.Load() {
					s.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}

				s.config.Log.Info("Running periodic tests")
				if err := s.runTests(); err != nil {
					s.config.Log.Error("Error running periodic tests", "error", err)
				}
				s.config.Log.Info("Test run interval", "interval", s.config.RunInterval)

			case <-s.done:
				s.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				s.config.Log.Debug("Context canceled, stopping periodic test runner")
				s.running.Store(false)
				return
			}
		}
	}()
	s.config.Log.Debug("op-sanity started successfully")
	return nil
}

// runTests discovers the test files, runs them and prints the results. Test
// failures are not errors here; they are read from s.report.
func (s *sanity) runTests() error {
	files, err := testlist.Discover(s.config.TestDir, s.config.Filter)
	if err != nil {
		return NewRuntimeError(err)
	}
	if len(files) == 0 {
		return NewRuntimeError(fmt.Errorf("no test files found in %s", s.config.TestDir))
	}

	s.config.Log.Info("Running all tests...", "files", len(files))
	report, err := s.runner.RunTests(s.ctx, types.RunConfiguration{
		TestFiles:  files,
		Variables:  s.config.Variables,
		MaxRetries: s.config.MaxRetries,
	})
	if report != nil {
		s.report = report
		reporting.RenderTable(s.out, report.Aggregate)
	}
	if err != nil {
		return NewRuntimeError(err)
	}

	agg := report.Aggregate
	s.config.Log.Info("Test run completed", "run_id", agg.RunID, "passed", report.Passed(),
		"failed", agg.NumFailed, "skipped", agg.NumSkipped, "retryCount", agg.RetryCount)
	return nil
}

// Stop stops the op-sanity service.
// Stop implements the cliapp.Lifecycle interface.
func (s *sanity) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-sanity")

	if !s.running.Load() {
		s.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new test runs
	s.running.Store(false)
	close(s.done)
	if s.svc != nil {
		s.svc.Shutdown()
	}

	s.config.Log.Info("op-sanity stopped successfully")
	return nil
}

// Stopped returns true if the op-sanity service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (s *sanity) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (s *sanity) WaitForShutdown(ctx context.Context) error {
	s.config.Log.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

// failedFiles lists the test files of a report that did not pass.
func failedFiles(report *runner.Report) []string {
	if report.Passed() {
		return nil
	}
	var failed []string
	if report != nil && report.Aggregate != nil && report.Aggregate.Result != nil {
		for _, f := range report.Aggregate.Result.Files {
			if !f.Passed() {
				failed = append(failed, f.File)
			}
		}
	}
	if len(failed) == 0 {
		failed = append(failed, "unknown")
	}
	return failed
}
