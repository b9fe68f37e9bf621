package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sanity/alerts"
	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/reporting"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// fakeEngine answers each attempt with the next scripted outcome.
type fakeEngine struct {
	outcomes []func(inv engine.Invocation) (*types.ExecutionResult, error)
	calls    int
	dirs     []string
}

func (f *fakeEngine) Execute(_ context.Context, inv engine.Invocation) (*types.ExecutionResult, error) {
	f.dirs = append(f.dirs, inv.Workspace.Dir())
	i := f.calls
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[i](inv)
}

func fileResult(name string, statuses ...types.CaseStatus) *types.FileResult {
	fr := &types.FileResult{File: name}
	for i, s := range statuses {
		c := &types.CaseResult{Name: "Test" + string(rune('A'+i)), Status: s}
		if s == types.CaseStatusFailed {
			c.FailureMessages = []string{"assertion failed"}
		}
		fr.Cases = append(fr.Cases, c)
	}
	fr.Tally()
	return fr
}

// loginPassesCheckoutFails is the login/checkout example run.
func loginPassesCheckoutFails(engine.Invocation) (*types.ExecutionResult, error) {
	return &types.ExecutionResult{Success: false, Files: []*types.FileResult{
		fileResult("checkout.test", types.CaseStatusFailed),
		fileResult("login.test", types.CaseStatusPassed),
	}}, nil
}

func allPass(engine.Invocation) (*types.ExecutionResult, error) {
	return &types.ExecutionResult{Success: true, Files: []*types.FileResult{
		fileResult("checkout.test", types.CaseStatusPassed),
		fileResult("login.test", types.CaseStatusPassed),
	}}, nil
}

type recordingChat struct {
	mu       sync.Mutex
	messages int
}

func (c *recordingChat) Send(context.Context, string, []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages++
	return nil
}

type recordingPaging struct {
	mu       sync.Mutex
	raised   []string
	resolved []string
}

func (p *recordingPaging) Raise(_ context.Context, key string, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raised = append(p.raised, key)
	return key, nil
}

func (p *recordingPaging) Resolve(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = append(p.resolved, key)
	return nil
}

type harness struct {
	runner *Runner
	engine *fakeEngine
	chat   *recordingChat
	paging *recordingPaging
	sink   *bytes.Buffer
	outDir string
}

func newHarness(t *testing.T, outcomes ...func(engine.Invocation) (*types.ExecutionResult, error)) *harness {
	t.Helper()
	lgr := log.NewLogger(log.DiscardHandler())
	h := &harness{
		engine: &fakeEngine{outcomes: outcomes},
		chat:   &recordingChat{},
		paging: &recordingPaging{},
		sink:   &bytes.Buffer{},
		outDir: filepath.Join(t.TempDir(), "reports"),
	}
	r, err := New(Config{
		Engine:        h.engine,
		Dispatcher:    alerts.NewDispatcher(alerts.DispatcherConfig{Chat: h.chat, Paging: h.paging, Log: lgr}),
		Routing:       alerts.Routing{DefaultChannel: "#alerts"},
		Log:           lgr,
		WorkspaceRoot: t.TempDir(),
		OutputDir:     h.outDir,
		LogSink:       h.sink,
	})
	require.NoError(t, err)
	h.runner = r
	return h
}

func exampleConfig(vars types.Variables, maxRetries int) types.RunConfiguration {
	return types.RunConfiguration{
		RunID:       "run-1",
		ExecutionID: "exec-1",
		TestFiles: map[string]string{
			"login.test":    "// Description: login works\npackage login\n",
			"checkout.test": "package checkout\n",
		},
		Variables:  vars,
		MaxRetries: maxRetries,
	}
}

func TestRunTests_LoginCheckoutExample(t *testing.T) {
	h := newHarness(t, loginPassesCheckoutFails)
	cfg := exampleConfig(types.Variables{alerts.VarSlackAlert: "true", alerts.VarPagerDutyAlert: "true"}, 2)

	report, err := h.runner.RunTests(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, h.engine.calls)
	assert.Equal(t, 2, report.Aggregate.RetryCount)
	assert.False(t, report.Passed())
	assert.Equal(t, 1, report.Aggregate.NumFailed)

	// Chat fires for every declared file once the run failed; pages are raised per file.
	assert.Equal(t, 2, h.chat.messages)
	assert.ElementsMatch(t, []string{"op-sanity/checkout.test", "op-sanity/login.test"}, h.paging.raised)
	assert.Empty(t, h.paging.resolved)
	require.Len(t, report.Decisions, 2)

	// Log records, one per case, in aggregate order.
	lines := strings.Split(strings.TrimSpace(h.sink.String()), "\n")
	require.Len(t, lines, 2)
	var rec reporting.LogRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "checkout", rec.TestName)
	assert.Equal(t, "failed", rec.Status)
	assert.Equal(t, 2, rec.RetryCount)

	assert.Equal(t, filepath.Join(h.outDir, "exec-1.junit.xml"), report.JUnitPath)
	_, err = os.Stat(report.JUnitPath)
	require.NoError(t, err)

	// Every attempt reused the run's workspace, which is gone afterwards.
	require.Len(t, h.engine.dirs, 3)
	assert.Equal(t, h.engine.dirs[0], h.engine.dirs[2])
	_, err = os.Stat(h.engine.dirs[0])
	assert.True(t, os.IsNotExist(err))
}

func TestRunTests_RetrySucceeds(t *testing.T) {
	h := newHarness(t, loginPassesCheckoutFails, allPass)
	cfg := exampleConfig(types.Variables{alerts.VarSlackAlert: "true", alerts.VarPagerDutyAlert: "true"}, 2)

	report, err := h.runner.RunTests(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, h.engine.calls)
	assert.Equal(t, 1, report.Aggregate.RetryCount)
	assert.True(t, report.Passed())

	// No chat on a passing run; every file's page is resolved exactly once.
	assert.Zero(t, h.chat.messages)
	assert.Empty(t, h.paging.raised)
	assert.ElementsMatch(t, []string{"op-sanity/checkout.test", "op-sanity/login.test"}, h.paging.resolved)
}

func TestRunTests_EngineErrorIsReported(t *testing.T) {
	h := newHarness(t, func(engine.Invocation) (*types.ExecutionResult, error) {
		return nil, errors.New("exec: \"go\": executable file not found")
	})
	cfg := exampleConfig(types.Variables{alerts.VarSlackAlert: "true"}, 3)

	report, err := h.runner.RunTests(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, engine.IsExecutionError(err))
	require.NotNil(t, report)
	assert.Equal(t, 1, h.engine.calls)

	agg := report.Aggregate
	assert.NotEmpty(t, agg.EngineError)
	require.Len(t, agg.Result.Files, 2)
	for _, f := range agg.Result.Files {
		assert.True(t, f.HasError())
	}
	assert.Equal(t, 2, agg.NumFailed)
	assert.Equal(t, 2, h.chat.messages)

	doc := report.JUnit
	assert.Equal(t, 2, doc.Errors)
	assert.Zero(t, doc.Failures)

	_, statErr := os.Stat(h.engine.dirs[0])
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunTests_MissingFileIsNotDropped(t *testing.T) {
	h := newHarness(t, func(engine.Invocation) (*types.ExecutionResult, error) {
		return &types.ExecutionResult{Success: true, Files: []*types.FileResult{
			fileResult("login.test", types.CaseStatusPassed),
		}}, nil
	})

	report, err := h.runner.RunTests(context.Background(), exampleConfig(nil, 0))
	require.NoError(t, err)
	require.Len(t, report.Aggregate.Result.Files, 2)
	missing := report.Aggregate.Result.File("checkout.test")
	require.NotNil(t, missing)
	assert.Equal(t, msgMissingFromEngine, missing.Error)
	assert.False(t, report.Passed())
}

func TestRunTests_GeneratesIdentifiers(t *testing.T) {
	h := newHarness(t, allPass)
	cfg := exampleConfig(nil, 0)
	cfg.RunID, cfg.ExecutionID = "", ""

	report, err := h.runner.RunTests(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Aggregate.RunID)
	assert.NotEmpty(t, report.Aggregate.ExecutionID)
}

func TestRunTests_NoFiles(t *testing.T) {
	h := newHarness(t, allPass)
	_, err := h.runner.RunTests(context.Background(), types.RunConfiguration{})
	require.Error(t, err)
	assert.Zero(t, h.engine.calls)
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
