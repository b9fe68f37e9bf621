package types

import (
	"time"
)

// CaseStatus is the canonical status of a single test case.
type CaseStatus string

const (
	CaseStatusPassed  CaseStatus = "passed"
	CaseStatusFailed  CaseStatus = "failed"
	CaseStatusSkipped CaseStatus = "skipped"
)

// CaseResult captures the outcome of one test case. Timing fields stay nil
// when the engine did not report them, so "unknown" is never confused with
// "instant".
type CaseResult struct {
	Name            string         `json:"name"`
	Status          CaseStatus     `json:"status"`
	Duration        *time.Duration `json:"duration,omitempty"`
	StartTime       *time.Time     `json:"startTime,omitempty"`
	EndTime         *time.Time     `json:"endTime,omitempty"`
	FailureMessages []string       `json:"failureMessages,omitempty"`
}

// FileResult holds the results of all cases declared in one test file.
type FileResult struct {
	File       string         `json:"file"`
	Cases      []*CaseResult  `json:"cases"`
	StartTime  *time.Time     `json:"startTime,omitempty"`
	EndTime    *time.Time     `json:"endTime,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
	NumFailed  int            `json:"numFailed"`
	NumPending int            `json:"numPending"`

	// Error is an execution-level error recorded against the whole file,
	// as opposed to an assertion failure inside one of its cases.
	Error string `json:"error,omitempty"`

	// Artifacts maps an artifact's relative path to its signed download URL.
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// HasError reports whether an execution-level error was recorded.
func (f *FileResult) HasError() bool {
	return f.Error != ""
}

// Passed reports whether the file ran cleanly with no failed case.
func (f *FileResult) Passed() bool {
	return !f.HasError() && f.NumFailed == 0
}

// Case returns the case with the given name, or nil.
func (f *FileResult) Case(name string) *CaseResult {
	for _, c := range f.Cases {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AttachArtifact records the signed URL of an artifact. An existing entry is
// never overwritten.
func (f *FileResult) AttachArtifact(relPath, url string) {
	if f.Artifacts == nil {
		f.Artifacts = make(map[string]string)
	}
	if _, ok := f.Artifacts[relPath]; ok {
		return
	}
	f.Artifacts[relPath] = url
}

// Tally recomputes NumFailed and NumPending from the cases.
func (f *FileResult) Tally() {
	f.NumFailed, f.NumPending = 0, 0
	for _, c := range f.Cases {
		switch c.Status {
		case CaseStatusFailed:
			f.NumFailed++
		case CaseStatusSkipped:
			f.NumPending++
		}
	}
}

// ExecutionResult is the canonical output of one engine invocation.
type ExecutionResult struct {
	Success bool          `json:"success"`
	Files   []*FileResult `json:"files"`
}

// File returns the result of the named test file, or nil.
func (r *ExecutionResult) File(name string) *FileResult {
	for _, f := range r.Files {
		if f.File == name {
			return f
		}
	}
	return nil
}

// EnsureFiles records an execution-level error for every declared file that
// is missing from the result, so no file is silently dropped from reporting.
// Files are kept in the order of names, followed by any undeclared extras.
func (r *ExecutionResult) EnsureFiles(names []string, reason string) {
	ordered := make([]*FileResult, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
		f := r.File(name)
		if f == nil {
			f = &FileResult{File: name, Error: reason}
			r.Success = false
		}
		ordered = append(ordered, f)
	}
	for _, f := range r.Files {
		if !seen[f.File] {
			ordered = append(ordered, f)
		}
	}
	r.Files = ordered
}

// Artifacts merges the artifact references of every file.
func (r *ExecutionResult) Artifacts() map[string]string {
	out := make(map[string]string)
	for _, f := range r.Files {
		for k, v := range f.Artifacts {
			out[k] = v
		}
	}
	return out
}

// AggregateRunResult is the retry-resolved result of a run. It is created
// once, after the retry loop terminates.
type AggregateRunResult struct {
	RunID       string           `json:"runId"`
	ExecutionID string           `json:"executionId"`
	Variables   Variables        `json:"variables"`
	Result      *ExecutionResult `json:"result"`
	RetryCount  int              `json:"retryCount"`
	NumFailed   int              `json:"numFailed"`
	NumSkipped  int              `json:"numSkipped"`

	// EngineError is set when the engine could not run at all.
	EngineError string `json:"engineError,omitempty"`
}

// NewAggregate wraps the authoritative result of a run and derives its
// counts. Files with an execution-level error count as failures.
func NewAggregate(cfg RunConfiguration, result *ExecutionResult, retryCount int) *AggregateRunResult {
	if result == nil {
		result = &ExecutionResult{}
	}
	agg := &AggregateRunResult{
		RunID:       cfg.RunID,
		ExecutionID: cfg.ExecutionID,
		Variables:   cfg.Variables.Clone(),
		Result:      result,
		RetryCount:  retryCount,
	}
	for _, f := range result.Files {
		agg.NumFailed += f.NumFailed
		agg.NumSkipped += f.NumPending
		if f.HasError() && f.NumFailed == 0 {
			agg.NumFailed++
		}
	}
	return agg
}

// Success reports the run's overall success flag.
func (a *AggregateRunResult) Success() bool {
	return a.Result != nil && a.Result.Success && a.NumFailed == 0 && a.EngineError == ""
}

// HasFailures reports whether at least one test failed anywhere in the run.
func (a *AggregateRunResult) HasFailures() bool {
	return a.NumFailed > 0
}
