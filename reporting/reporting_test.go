package reporting

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

func dur(d time.Duration) *time.Duration { return &d }

func testAggregate() *types.AggregateRunResult {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Second)

	login := &types.FileResult{
		File:      "login.test",
		StartTime: &start,
		EndTime:   &end,
		Duration:  dur(3 * time.Second),
		Cases: []*types.CaseResult{
			{Name: "TestLogin", Status: types.CaseStatusPassed, Duration: dur(1500 * time.Millisecond)},
		},
	}
	checkout := &types.FileResult{
		File: "checkout.test",
		Cases: []*types.CaseResult{
			{Name: "TestCart", Status: types.CaseStatusFailed, Duration: dur(time.Second),
				FailureMessages: []string{"\x1b[31mcart empty\x1b[0m", "Screenshot available at checkout/TestCart/shot.png"}},
			{Name: "TestPay", Status: types.CaseStatusFailed},
		},
	}
	pending := &types.FileResult{
		File: "pending.test",
		Cases: []*types.CaseResult{
			{Name: "TestLater", Status: types.CaseStatusSkipped},
			{Name: "TestNow", Status: types.CaseStatusFailed, FailureMessages: []string{"ignored"}},
		},
	}
	broken := &types.FileResult{File: "broken.test", Error: "syntax error"}
	for _, f := range []*types.FileResult{login, checkout, pending, broken} {
		f.Tally()
	}

	cfg := types.RunConfiguration{
		RunID:       "run-1",
		ExecutionID: "exec-1",
		Variables:   types.Variables{"SLACK_ALERT": "true"},
	}
	return types.NewAggregate(cfg, &types.ExecutionResult{
		Success: false,
		Files:   []*types.FileResult{login, checkout, pending, broken},
	}, 2)
}

func TestFormat(t *testing.T) {
	records := Format(testAggregate())
	require.Len(t, records, 6)

	first := records[0]
	assert.Equal(t, "login", first.TestName)
	assert.Equal(t, "passed", first.Status)
	require.NotNil(t, first.Duration)
	assert.Equal(t, 1.5, *first.Duration)
	assert.Equal(t, 2, first.RetryCount)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "exec-1", first.ExecutionID)
	require.NotNil(t, first.StartTime)

	assert.Equal(t, "checkout", records[1].TestName)
	assert.Equal(t, "failed", records[1].Status)
	assert.Nil(t, records[2].Duration)

	// A file with pending tests reports every case as skipped.
	assert.Equal(t, "skipped", records[3].Status)
	assert.Equal(t, "skipped", records[4].Status)

	assert.Equal(t, "broken", records[5].TestName)
	assert.Equal(t, StatusError, records[5].Status)
}

func TestWriteLogRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLogRecords(&buf, Format(testAggregate())))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	for _, key := range []string{"variables", "retryCount", "duration", "status", "endTime", "startTime", "testName", "runId", "executionId"} {
		assert.Contains(t, rec, key)
	}
	assert.Nil(t, rec["duration"])
	assert.Nil(t, rec["startTime"])
	assert.Equal(t, map[string]any{"SLACK_ALERT": "true"}, rec["variables"])
}

func TestFormat_IsDeterministic(t *testing.T) {
	agg := testAggregate()
	var a, b bytes.Buffer
	require.NoError(t, WriteLogRecords(&a, Format(agg)))
	require.NoError(t, WriteLogRecords(&b, Format(agg)))
	assert.Equal(t, a.String(), b.String())
}

func TestToJUnit(t *testing.T) {
	doc := ToJUnit(testAggregate())

	assert.Equal(t, JUnitSuiteName, doc.Name)
	require.Len(t, doc.Suites, 4)
	assert.Equal(t, 6, doc.Tests)
	assert.Equal(t, 2, doc.Failures)
	assert.Equal(t, 1, doc.Errors)
	assert.Equal(t, 2, doc.Skipped)

	login := doc.Suites[0]
	assert.Equal(t, "3.000", login.Time)
	assert.Equal(t, "2026-03-01T12:00:00", login.Timestamp)
	passing := login.Cases[0]
	assert.Equal(t, "1.500", passing.Time)
	assert.Nil(t, passing.Skipped)
	assert.Nil(t, passing.Failure)
	assert.Nil(t, passing.Error)

	checkout := doc.Suites[1]
	assert.Empty(t, checkout.Time)
	cart := checkout.Cases[0]
	require.NotNil(t, cart.Failure)
	assert.Equal(t, "failure", cart.Failure.Type)
	assert.Equal(t, "cart empty\nScreenshot available at checkout/TestCart/shot.png", cart.Failure.Body)
	assert.Equal(t, "cart empty", cart.Failure.Message)
	assert.Empty(t, checkout.Cases[1].Time)
	assert.Equal(t, "Unknown failure.", checkout.Cases[1].Failure.Body)

	for _, c := range doc.Suites[2].Cases {
		require.NotNil(t, c.Skipped)
		assert.Nil(t, c.Failure)
		assert.Nil(t, c.Error)
	}

	broken := doc.Suites[3]
	require.Len(t, broken.Cases, 1)
	require.NotNil(t, broken.Cases[0].Error)
	assert.Equal(t, "Error running test.", broken.Cases[0].Error.Message)
	assert.Equal(t, "error", broken.Cases[0].Error.Type)
	assert.Equal(t, "syntax error", broken.Cases[0].Error.Body)
	assert.Nil(t, broken.Cases[0].Failure)
}

func TestWriteJUnit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := WriteJUnit(dir, testAggregate())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exec-1.junit.xml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), xml.Header))
	assert.Contains(t, string(data), `<testsuites name="Sanity Runner"`)
	assert.Contains(t, string(data), `<skipped></skipped>`)
	assert.NotContains(t, string(data), "\x1b[")

	var parsed JUnitDocument
	require.NoError(t, xml.Unmarshal(data, &parsed))
	assert.Len(t, parsed.Suites, 4)
}

func TestWriteDocument_RequiresExecutionID(t *testing.T) {
	_, err := WriteDocument(t.TempDir(), "", &JUnitDocument{})
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	a := ToJUnit(testAggregate())
	b := &JUnitDocument{Suites: []JUnitTestSuite{{Name: "extra.test", Tests: 1}}, Tests: 1}

	merged := Merge(a, nil, b)
	require.Len(t, merged.Suites, 5)
	assert.Equal(t, "extra.test", merged.Suites[4].Name)
	assert.Equal(t, 7, merged.Tests)
	assert.Equal(t, 1, merged.Errors)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, testAggregate(), nil)

	out := buf.String()
	assert.Contains(t, out, "login.test")
	assert.Contains(t, out, "TestCart")
	assert.Contains(t, out, "syntax error")
	assert.Contains(t, out, "TOTAL")
}

func TestFileErrorWithPassedCases(t *testing.T) {
	file := &types.FileResult{
		File:  "main.test",
		Error: "teardown failed",
		Cases: []*types.CaseResult{{Name: "TestOK", Status: types.CaseStatusPassed}},
	}
	file.Tally()
	agg := types.NewAggregate(types.RunConfiguration{RunID: "run-1", ExecutionID: "exec-1"},
		&types.ExecutionResult{Success: false, Files: []*types.FileResult{file}}, 0)
	require.False(t, agg.Success())
	require.Equal(t, 1, agg.NumFailed)

	doc := ToJUnit(agg)
	assert.Equal(t, 2, doc.Tests)
	assert.Equal(t, 1, doc.Errors)
	assert.Equal(t, 0, doc.Failures)
	suite := doc.Suites[0]
	require.Len(t, suite.Cases, 2)
	assert.Nil(t, suite.Cases[0].Error)
	require.NotNil(t, suite.Cases[1].Error)
	assert.Equal(t, "main", suite.Cases[1].Name)
	assert.Equal(t, "Error running test.", suite.Cases[1].Error.Message)
	assert.Equal(t, "teardown failed", suite.Cases[1].Error.Body)

	records := Format(agg)
	require.Len(t, records, 2)
	assert.Equal(t, "passed", records[0].Status)
	assert.Equal(t, StatusError, records[1].Status)
	assert.Equal(t, "main", records[1].TestName)
}
