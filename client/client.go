// Package client drives a remote op-sanity execution target: it discovers
// test files locally, invokes the target once per file and merges the
// outcomes into a single report.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-sanity/reporting"
	"github.com/ethereum-optimism/infra/op-sanity/testlist"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const (
	DefaultConcurrency    = 4
	DefaultRequestTimeout = 15 * time.Minute

	invokePath       = "/invoke"
	maxResponseBytes = 64 * 1024 * 1024
)

// Config configures a Client.
type Config struct {
	TargetURL      string
	TestDir        string
	Filter         testlist.Filter
	Variables      types.Variables
	MaxRetries     int
	OutputDir      string // the merged JUnit report is written here when set
	Concurrency    int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Log            log.Logger
}

// Client invokes a remote execution target.
type Client struct {
	cfg  Config
	http *http.Client
	log  log.Logger
}

// FileOutcome is the remote outcome of one test file.
type FileOutcome struct {
	File      string
	Response  *types.InvokeResponse
	Aggregate *types.AggregateRunResult
}

// Result is the merged outcome of a remote run.
type Result struct {
	ExecutionID string
	Files       []FileOutcome // ordered by file name
	JUnit       *reporting.JUnitDocument
	JUnitPath   string
}

// Passed reports whether every file passed remotely.
func (r *Result) Passed() bool {
	for _, f := range r.Files {
		if f.Response == nil || !f.Response.Passed {
			return false
		}
	}
	return len(r.Files) > 0
}

// Aggregates returns the per-file aggregates in file order.
func (r *Result) Aggregates() []*types.AggregateRunResult {
	out := make([]*types.AggregateRunResult, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, f.Aggregate)
	}
	return out
}

// FailedFiles lists the files that did not pass.
func (r *Result) FailedFiles() []string {
	var failed []string
	for _, f := range r.Files {
		if f.Response == nil || !f.Response.Passed {
			failed = append(failed, f.File)
		}
	}
	return failed
}

func New(cfg Config) (*Client, error) {
	if cfg.TargetURL == "" {
		return nil, errors.New("target URL is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.TargetURL = strings.TrimRight(cfg.TargetURL, "/")
	return &Client{cfg: cfg, http: httpClient, log: cfg.Log}, nil
}

// Run discovers the test files and invokes the target once per file with
// bounded concurrency. A file whose invocation fails is recorded as errored;
// only discovery and report-writing problems are returned as errors.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	files, err := testlist.Discover(c.cfg.TestDir, c.cfg.Filter)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no test files found in %s", c.cfg.TestDir)
	}

	executionID := uuid.New().String()
	c.log.Info("Invoking remote target", "target", c.cfg.TargetURL, "files", len(files),
		"executionId", executionID, "concurrency", c.cfg.Concurrency)

	p := pool.NewWithResults[FileOutcome]().
		WithMaxGoroutines(c.cfg.Concurrency).
		WithContext(ctx)
	for name, source := range files {
		p.Go(func(ctx context.Context) (FileOutcome, error) {
			return c.runFile(ctx, executionID, name, source), nil
		})
	}
	outcomes, _ := p.Wait()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].File < outcomes[j].File })

	result := &Result{ExecutionID: executionID, Files: outcomes}
	docs := make([]*reporting.JUnitDocument, 0, len(outcomes))
	for _, o := range outcomes {
		docs = append(docs, reporting.ToJUnit(o.Aggregate))
	}
	result.JUnit = reporting.Merge(docs...)

	if c.cfg.OutputDir != "" {
		path, err := reporting.WriteDocument(c.cfg.OutputDir, executionID, result.JUnit)
		if err != nil {
			return result, err
		}
		result.JUnitPath = path
		c.log.Info("Wrote JUnit report", "path", path)
	}
	return result, nil
}

func (c *Client) runFile(ctx context.Context, executionID, name, source string) FileOutcome {
	cfg := types.RunConfiguration{
		ExecutionID: executionID,
		TestFiles:   map[string]string{name: source},
		Variables:   c.cfg.Variables,
		MaxRetries:  c.cfg.MaxRetries,
	}
	resp, err := c.Invoke(ctx, types.InvokePayload{
		TestFiles:     cfg.TestFiles,
		TestVariables: cfg.Variables,
		RetryCount:    cfg.MaxRetries,
		ExecutionID:   executionID,
	})
	if err != nil {
		c.log.Error("Remote invocation failed", "file", name, "error", err)
		return FileOutcome{File: name, Aggregate: erroredAggregate(cfg, name, err.Error())}
	}

	agg := resp.Results
	if agg == nil {
		agg = erroredAggregate(cfg, name, joinErrors(resp.Errors))
	}
	c.log.Info("Remote test file finished", "file", name, "passed", resp.Passed)
	return FileOutcome{File: name, Response: resp, Aggregate: agg}
}

// Invoke sends one payload to the target. Non-2xx answers that still carry an
// InvokeResponse are returned with an error.
func (c *Client) Invoke(ctx context.Context, payload types.InvokePayload) (*types.InvokeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TargetURL+invokePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke target: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp types.InvokeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode/100 != 2 {
		return &resp, fmt.Errorf("target answered %d: %s", res.StatusCode, joinErrors(resp.Errors))
	}
	return &resp, nil
}

func erroredAggregate(cfg types.RunConfiguration, file, reason string) *types.AggregateRunResult {
	result := &types.ExecutionResult{Success: false}
	result.EnsureFiles([]string{file}, reason)
	agg := types.NewAggregate(cfg, result, 0)
	agg.EngineError = reason
	return agg
}

func joinErrors(errs []types.InvokeError) string {
	if len(errs) == 0 {
		return "remote run reported no results"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
