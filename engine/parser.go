package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// TestEvent is a single event of the go test -json output.
type TestEvent struct {
	Time       time.Time
	Action     string
	Package    string
	ImportPath string
	Test       string
	Output     string
	Elapsed    *float64
}

// packageResolver maps engine packages back to declared test files.
type packageResolver interface {
	FileForPackage(importPath string) (string, bool)
	Files() []string
}

type caseState struct {
	result *types.CaseResult
	output []string
	done   bool
}

type fileState struct {
	result        *types.FileResult
	cases         map[string]*caseState
	order         []string
	output        []string
	packageAction string
}

// collector accumulates test2json events into per-file results.
type collector struct {
	resolver    packageResolver
	files       map[string]*fileState
	validEvents int
}

func newCollector(resolver packageResolver) *collector {
	return &collector{
		resolver: resolver,
		files:    make(map[string]*fileState),
	}
}

// Consume reads newline-delimited events until EOF. Lines that are not valid
// events are ignored.
func (c *collector) Consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil || event.Action == "" {
			continue
		}
		c.validEvents++
		c.handle(event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test output: %w", err)
	}
	return nil
}

func (c *collector) fileFor(event TestEvent) *fileState {
	pkg := event.Package
	if pkg == "" && event.ImportPath != "" {
		// Build events carry "pkg [pkg.test]" style import paths.
		pkg, _, _ = strings.Cut(event.ImportPath, " ")
	}
	file, ok := c.resolver.FileForPackage(pkg)
	if !ok {
		return nil
	}
	fs, ok := c.files[file]
	if !ok {
		fs = &fileState{
			result: &types.FileResult{File: file},
			cases:  make(map[string]*caseState),
		}
		c.files[file] = fs
	}
	return fs
}

func (c *collector) handle(event TestEvent) {
	fs := c.fileFor(event)
	if fs == nil {
		return
	}

	switch event.Action {
	case ActionBuildOutput:
		fs.output = append(fs.output, event.Output)
		return
	case ActionBuildFail:
		fs.packageAction = ActionFail
		return
	}

	if event.Test == "" {
		c.handlePackageEvent(fs, event)
		return
	}

	top, _, _ := strings.Cut(event.Test, "/")
	cs, ok := fs.cases[top]
	if !ok {
		cs = &caseState{result: &types.CaseResult{Name: top, Status: types.CaseStatusPassed}}
		fs.cases[top] = cs
		fs.order = append(fs.order, top)
	}
	isTop := event.Test == top

	switch event.Action {
	case ActionRun:
		if isTop {
			cs.result.StartTime = timePtr(event.Time)
		}
	case ActionOutput:
		if !isFramingLine(event.Output) {
			cs.output = append(cs.output, event.Output)
		}
	case ActionPass, ActionFail, ActionSkip:
		if !isTop {
			return
		}
		cs.done = true
		cs.result.Status = statusFor(event.Action)
		cs.result.EndTime = timePtr(event.Time)
		// Skipped cases carry no meaningful timing.
		if event.Action != ActionSkip {
			cs.result.Duration = elapsed(event.Elapsed)
		}
	}
}

func (c *collector) handlePackageEvent(fs *fileState, event TestEvent) {
	switch event.Action {
	case ActionStart:
		fs.result.StartTime = timePtr(event.Time)
	case ActionOutput:
		if !isFramingLine(event.Output) {
			fs.output = append(fs.output, event.Output)
		}
	case ActionPass, ActionFail, ActionSkip:
		fs.packageAction = event.Action
		fs.result.EndTime = timePtr(event.Time)
		fs.result.Duration = elapsed(event.Elapsed)
	}
}

// Result finalizes the collected events into the canonical result. Every
// declared file appears in the result, in declaration order.
func (c *collector) Result() *types.ExecutionResult {
	result := &types.ExecutionResult{Success: true}
	for _, file := range c.resolver.Files() {
		fs, ok := c.files[file]
		if !ok {
			result.Files = append(result.Files, &types.FileResult{File: file, Error: msgNoResults})
			result.Success = false
			continue
		}
		fr := fs.finalize()
		if !fr.Passed() {
			result.Success = false
		}
		result.Files = append(result.Files, fr)
	}
	return result
}

func (fs *fileState) finalize() *types.FileResult {
	fr := fs.result
	fr.Cases = make([]*types.CaseResult, 0, len(fs.order))
	for _, name := range fs.order {
		cs := fs.cases[name]
		if !cs.done {
			cs.result.Status = types.CaseStatusFailed
			cs.output = append(cs.output, msgIncomplete)
		}
		if cs.result.Status == types.CaseStatusFailed {
			msg := joinOutput(cs.output)
			if msg == "" {
				msg = msgTestFailed
			}
			cs.result.FailureMessages = []string{msg}
		}
		fr.Cases = append(fr.Cases, cs.result)
	}
	fr.Tally()

	switch {
	case len(fr.Cases) == 0 && fs.packageAction == ActionFail:
		fr.Error = orDefault(joinOutput(fs.output), msgFileFailed)
	case len(fr.Cases) == 0 && fs.packageAction == "":
		fr.Error = msgNoResults
	case len(fr.Cases) == 0:
		fr.Error = msgNoCases
	case fs.packageAction == ActionFail && fr.NumFailed == 0:
		// The package failed outside of any test, e.g. in TestMain.
		fr.Error = orDefault(joinOutput(fs.output), msgFileFailed)
	}
	return fr
}

func statusFor(action string) types.CaseStatus {
	switch action {
	case ActionFail:
		return types.CaseStatusFailed
	case ActionSkip:
		return types.CaseStatusSkipped
	default:
		return types.CaseStatusPassed
	}
}

// isFramingLine filters the lines go test prints around every test.
func isFramingLine(output string) bool {
	line := strings.TrimSpace(output)
	for _, prefix := range []string{"=== RUN", "=== PAUSE", "=== CONT", "=== NAME", "--- PASS", "--- FAIL", "--- SKIP"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return line == "PASS" || line == "FAIL" || strings.HasPrefix(line, "ok  \t") || strings.HasPrefix(line, "FAIL\t")
}

func joinOutput(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, ""))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func elapsed(seconds *float64) *time.Duration {
	if seconds == nil {
		return nil
	}
	d := time.Duration(*seconds * float64(time.Second))
	return &d
}
