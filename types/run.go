package types

import (
	"path/filepath"
	"sort"
	"strings"
)

// Variables are the string-keyed run-level overrides handed to the tests and
// read by the alert dispatcher.
type Variables map[string]string

// Truthy reports whether the variable is set to a non-empty value.
func (v Variables) Truthy(key string) bool {
	return v[key] != ""
}

// Clone returns a copy that is safe to hand out without sharing the map.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// RunConfiguration identifies one logical run and everything it needs to
// execute. It is never mutated once built.
type RunConfiguration struct {
	RunID       string
	ExecutionID string
	TestFiles   map[string]string // filename -> source
	Variables   Variables
	MaxRetries  int
}

// FileNames returns the declared test files in their canonical order.
func (c RunConfiguration) FileNames() []string {
	names := make([]string, 0, len(c.TestFiles))
	for name := range c.TestFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TestName derives the reported test name from a test filename: the basename
// with its last extension removed.
func TestName(filename string) string {
	base := filepath.Base(filename)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[:idx]
	}
	return base
}
