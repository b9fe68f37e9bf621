// Package reporting turns an aggregate run result into the structured log
// records, the JUnit document and the console table of a run.
package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// StatusError is the log status of a file-level error, such as a build
// failure or a TestMain that failed after its tests passed.
const StatusError = "error"

// LogRecord is one structured log line, emitted per test case.
type LogRecord struct {
	Variables   types.Variables `json:"variables"`
	RetryCount  int             `json:"retryCount"`
	Duration    *float64        `json:"duration"`
	Status      string          `json:"status"`
	EndTime     *time.Time      `json:"endTime"`
	StartTime   *time.Time      `json:"startTime"`
	TestName    string          `json:"testName"`
	RunID       string          `json:"runId"`
	ExecutionID string          `json:"executionId"`
}

// EffectiveStatus is the status reported for a case. A file that reported
// pending tests marks all of its cases as skipped.
func EffectiveStatus(file *types.FileResult, c *types.CaseResult) types.CaseStatus {
	if file.NumPending > 0 {
		return types.CaseStatusSkipped
	}
	return c.Status
}

// Format builds the log records of a run in file-then-case order.
func Format(agg *types.AggregateRunResult) []LogRecord {
	if agg == nil || agg.Result == nil {
		return nil
	}
	var records []LogRecord
	for _, file := range agg.Result.Files {
		base := LogRecord{
			Variables:   agg.Variables,
			RetryCount:  agg.RetryCount,
			EndTime:     file.EndTime,
			StartTime:   file.StartTime,
			TestName:    types.TestName(file.File),
			RunID:       agg.RunID,
			ExecutionID: agg.ExecutionID,
		}
		for _, c := range file.Cases {
			rec := base
			rec.Status = string(EffectiveStatus(file, c))
			rec.Duration = seconds(c.Duration)
			records = append(records, rec)
		}
		if file.HasError() {
			rec := base
			rec.Status = StatusError
			records = append(records, rec)
		}
	}
	return records
}

// WriteLogRecords writes the records as newline-delimited JSON.
func WriteLogRecords(w io.Writer, records []LogRecord) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to write log record for %s: %w", records[i].TestName, err)
		}
	}
	return nil
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}
