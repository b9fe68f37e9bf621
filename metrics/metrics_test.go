package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("upload@failed#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("slack   unreachable"),
		},
	}

	validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Regexp(t, validLabelRegex, errToLabel(tt.err))
		})
	}
}

func TestRecordAttempt(t *testing.T) {
	attempts := testutil.ToFloat64(attemptsTotal)
	retries := testutil.ToFloat64(retriesTotal)

	RecordAttempt(0)
	RecordAttempt(1)
	RecordAttempt(2)

	assert.Equal(t, attempts+3, testutil.ToFloat64(attemptsTotal))
	assert.Equal(t, retries+2, testutil.ToFloat64(retriesTotal))
}

func TestRecordTestFile_IgnoresInvalidResult(t *testing.T) {
	RecordTestFile("login", "passed")
	assert.Equal(t, float64(1), testutil.ToFloat64(testFilesTotal.WithLabelValues("login", "passed")))

	RecordTestFile("login", "bogus")
	assert.Equal(t, float64(0), testutil.ToFloat64(testFilesTotal.WithLabelValues("login", "bogus")))
}

func TestRecordRunAndAlerts(t *testing.T) {
	RecordRun("failed", 3, 2*time.Second)
	assert.Equal(t, float64(3), testutil.ToFloat64(lastRunFailed))

	before := testutil.ToFloat64(alertsTotal.WithLabelValues("pagerduty", "raise", "error"))
	RecordAlert("pagerduty", "raise", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(alertsTotal.WithLabelValues("pagerduty", "raise", "error")))

	RecordArtifact(nil)
	assert.GreaterOrEqual(t, testutil.ToFloat64(artifactsTotal.WithLabelValues("uploaded")), float64(1))
}
