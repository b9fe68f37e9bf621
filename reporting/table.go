package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// RenderTable prints a summary of one or more runs.
func RenderTable(w io.Writer, aggs ...*types.AggregateRunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Sanity Results")

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	var total, passed, failed, skipped int
	success := true
	for _, agg := range aggs {
		if agg == nil || agg.Result == nil {
			continue
		}
		if !agg.Success() {
			success = false
		}
		for _, file := range agg.Result.Files {
			s := fileStats(file)
			total += s.total
			passed += s.passed
			failed += s.failed
			skipped += s.skipped

			t.AppendRow(table.Row{
				"File",
				file.File,
				formatDuration(file.Duration),
				s.total,
				s.passed,
				s.failed,
				s.skipped,
				fileResultString(file),
				firstLine(file.Error),
			})
			for _, c := range file.Cases {
				t.AppendRow(table.Row{
					"",
					"└── " + c.Name,
					formatDuration(c.Duration),
					1,
					boolToInt(EffectiveStatus(file, c) == types.CaseStatusPassed),
					boolToInt(EffectiveStatus(file, c) == types.CaseStatusFailed),
					boolToInt(EffectiveStatus(file, c) == types.CaseStatusSkipped),
					getResultString(EffectiveStatus(file, c)),
					firstFailure(c.FailureMessages),
				})
			}
			t.AppendSeparator()
		}
	}

	if success {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		"",
		total,
		passed,
		failed,
		skipped,
		getResultString(statusOf(success)),
		"",
	})

	t.Render()
}

type stats struct {
	total, passed, failed, skipped int
}

func fileStats(file *types.FileResult) stats {
	var s stats
	for _, c := range file.Cases {
		s.total++
		switch EffectiveStatus(file, c) {
		case types.CaseStatusPassed:
			s.passed++
		case types.CaseStatusFailed:
			s.failed++
		case types.CaseStatusSkipped:
			s.skipped++
		}
	}
	return s
}

func fileResultString(file *types.FileResult) string {
	if file.HasError() {
		return "✗ error"
	}
	if file.NumPending > 0 {
		return getResultString(types.CaseStatusSkipped)
	}
	return getResultString(statusOf(file.Passed()))
}

func statusOf(ok bool) types.CaseStatus {
	if ok {
		return types.CaseStatusPassed
	}
	return types.CaseStatusFailed
}

// getResultString returns a string representing the case result
func getResultString(status types.CaseStatus) string {
	switch status {
	case types.CaseStatusPassed:
		return "✓ pass"
	case types.CaseStatusSkipped:
		return "- skip"
	default:
		return "✗ fail"
	}
}

func firstFailure(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	return firstLine(messages[0])
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 80 {
		return s[:70] + "..."
	}
	return s
}

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// formatDuration formats a known duration to seconds with 1 decimal place
func formatDuration(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
