package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/reporting"
	"github.com/ethereum-optimism/infra/op-sanity/runner"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	got      []types.RunConfiguration
	report   func(cfg types.RunConfiguration) *runner.Report
	err      error
	active   atomic.Int32
	overlaps atomic.Int32
	delay    time.Duration
}

func (f *fakeRunner) RunTests(_ context.Context, cfg types.RunConfiguration) (*runner.Report, error) {
	if f.active.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	defer f.active.Add(-1)
	time.Sleep(f.delay)

	f.mu.Lock()
	f.got = append(f.got, cfg)
	f.mu.Unlock()
	if f.report == nil {
		return nil, f.err
	}
	return f.report(cfg), f.err
}

func reportFor(cfg types.RunConfiguration, passed bool) *runner.Report {
	file := &types.FileResult{File: "login_test.go", Cases: []*types.CaseResult{{Name: "TestLogin", Status: types.CaseStatusPassed}}}
	if !passed {
		file.Cases[0].Status = types.CaseStatusFailed
		file.Cases[0].FailureMessages = []string{"bad password"}
		file.AttachArtifact("login_test/TestLogin/page.png", "https://bucket/page.png")
		file.Tally()
	}
	cfg.RunID = "run-1"
	agg := types.NewAggregate(cfg, &types.ExecutionResult{Success: passed, Files: []*types.FileResult{file}}, 0)
	return &runner.Report{Aggregate: agg, JUnit: reporting.ToJUnit(agg)}
}

func invoke(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, types.InvokeResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, InvokePath, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp types.InvokeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func newHandler(r RunTester) *InvokeHandler {
	return NewInvokeHandler(r, log.NewLogger(log.DiscardHandler()))
}

func TestInvoke_PassingRun(t *testing.T) {
	fr := &fakeRunner{report: func(cfg types.RunConfiguration) *runner.Report { return reportFor(cfg, true) }}
	h := newHandler(fr)

	payload, err := json.Marshal(types.InvokePayload{
		TestFiles:     map[string]string{"login_test.go": "package login"},
		TestVariables: types.Variables{"SLACK_ALERT": "1"},
		RetryCount:    2,
		ExecutionID:   "exec-1",
	})
	require.NoError(t, err)

	rec, resp := invoke(t, h, string(payload))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, resp.Passed)
	assert.Empty(t, resp.Errors)
	assert.Empty(t, resp.Screenshots)
	require.NotNil(t, resp.Results)
	assert.Equal(t, "exec-1", resp.Results.ExecutionID)
	assert.Contains(t, resp.JUnit, `<testsuites name="Sanity Runner"`)

	require.Len(t, fr.got, 1)
	assert.Equal(t, "exec-1", fr.got[0].ExecutionID)
	assert.Equal(t, 2, fr.got[0].MaxRetries)
	assert.Equal(t, "1", fr.got[0].Variables["SLACK_ALERT"])
}

func TestInvoke_FailingRunReturnsScreenshots(t *testing.T) {
	fr := &fakeRunner{report: func(cfg types.RunConfiguration) *runner.Report { return reportFor(cfg, false) }}
	rec, resp := invoke(t, newHandler(fr), `{"testFiles":{"login_test.go":"package login"},"executionId":"exec-2"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Passed)
	assert.Equal(t, map[string]string{"login_test/TestLogin/page.png": "https://bucket/page.png"}, resp.Screenshots)
}

func TestInvoke_EngineErrorStillReports(t *testing.T) {
	fr := &fakeRunner{
		report: func(cfg types.RunConfiguration) *runner.Report { return reportFor(cfg, true) },
		err:    engine.NewExecutionError(0, errors.New("go: not found")),
	}
	rec, resp := invoke(t, newHandler(fr), `{"testFiles":{"login_test.go":"package login"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Passed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "ExecutionError", resp.Errors[0].Name)
	assert.Contains(t, resp.Errors[0].Message, "go: not found")
}

func TestInvoke_RunWithoutReport(t *testing.T) {
	fr := &fakeRunner{err: errors.New("failed to prepare workspace")}
	rec, resp := invoke(t, newHandler(fr), `{"testFiles":{"login_test.go":"package login"}}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Passed)
	assert.Nil(t, resp.Results)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "RuntimeError", resp.Errors[0].Name)
}

func TestInvoke_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"testFiles":`},
		{name: "no test files", body: `{"testFiles":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRunner{}
			rec, resp := invoke(t, newHandler(fr), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, "BadRequest", resp.Errors[0].Name)
			assert.Empty(t, fr.got)
		})
	}
}

func TestInvoke_MethodNotAllowed(t *testing.T) {
	h := newHandler(&fakeRunner{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, InvokePath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInvoke_RunsAreSerialized(t *testing.T) {
	fr := &fakeRunner{
		report: func(cfg types.RunConfiguration) *runner.Report { return reportFor(cfg, true) },
		delay:  20 * time.Millisecond,
	}
	h := newHandler(fr)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, InvokePath, bytes.NewBufferString(`{"testFiles":{"a_test.go":"package a"}}`))
			h.ServeHTTP(rec, req)
		}()
	}
	wg.Wait()

	assert.Len(t, fr.got, 4)
	assert.Zero(t, fr.overlaps.Load())
}

func TestHealthz(t *testing.T) {
	h := newHandler(&fakeRunner{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthzPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.HealthzAddr)
	assert.Equal(t, "0.0.0.0:7300", cfg.MetricsAddr)
}

func TestService_DisabledServersShutdownCleanly(t *testing.T) {
	s := New(Config{})
	s.Start(context.Background())
	s.Shutdown()
}
