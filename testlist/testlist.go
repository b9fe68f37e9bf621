// Package testlist discovers the sanity test files of a directory.
package testlist

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const testFileSuffix = "_test.go"

// Filter selects test files by their slash-separated path relative to the
// discovery root. Nil patterns match everything.
type Filter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// NewFilter compiles the include and exclude expressions; empty strings are
// ignored.
func NewFilter(include, exclude string) (Filter, error) {
	var f Filter
	var err error
	if include != "" {
		if f.Include, err = regexp.Compile(include); err != nil {
			return Filter{}, fmt.Errorf("invalid include pattern %q: %w", include, err)
		}
	}
	if exclude != "" {
		if f.Exclude, err = regexp.Compile(exclude); err != nil {
			return Filter{}, fmt.Errorf("invalid exclude pattern %q: %w", exclude, err)
		}
	}
	return f, nil
}

// Match reports whether a file should be run.
func (f Filter) Match(relPath string) bool {
	if f.Include != nil && !f.Include.MatchString(relPath) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(relPath) {
		return false
	}
	return true
}

// Discover walks dir and returns the source of every matching test file,
// keyed by its path relative to dir. Files that parse but declare no test
// functions are left out; files that do not parse are kept so the engine
// reports them.
func Discover(dir string, filter Filter) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && (strings.HasPrefix(d.Name(), ".") || d.Name() == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), testFileSuffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !filter.Match(rel) {
			return nil
		}

		src, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if fns, err := TestFunctions(rel, string(src)); err == nil && len(fns) == 0 {
			return nil
		}
		files[rel] = string(src)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover test files in %s: %w", dir, err)
	}
	return files, nil
}

// TestFunctions returns the names of the top-level test functions declared
// in a test file's source.
func TestFunctions(filename string, source string) ([]string, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, source, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	var testFunctions []string
	for _, decl := range f.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok || funcDecl.Recv != nil {
			continue
		}

		// Those functions have to start with "Test" and not be "TestMain"
		if strings.HasPrefix(funcDecl.Name.Name, "Test") && funcDecl.Name.Name != "TestMain" {
			testFunctions = append(testFunctions, funcDecl.Name.Name)
		}
	}
	return testFunctions, nil
}
