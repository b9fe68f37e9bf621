// Package workspace materializes the test files of a run into an ephemeral
// Go module that the execution engine can run.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/modfile"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const (
	DefaultModulePath = "sanityrun"
	DefaultGoVersion  = "1.22"

	artifactDirName = ".artifacts"
	testFileSuffix  = "_test.go"
)

var invalidPkgChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Options controls how the workspace module is generated.
type Options struct {
	// ModulePath is the module path written to the generated go.mod.
	ModulePath string
	// ModuleFile optionally points at a go.mod whose require and replace
	// directives (and sibling go.sum) are copied into the workspace, so test
	// files can import a shared harness.
	ModuleFile string
	// GoVersion is used when ModuleFile does not declare one.
	GoVersion string
}

// Workspace is a temporary Go module holding one package per test file. It is
// owned by exactly one run and must be removed with Cleanup.
type Workspace struct {
	dir        string
	modulePath string
	pkgDirs    map[string]string // declared file -> package directory
	packages   map[string]string // import path -> declared file
	files      []string
}

// New creates a workspace under root (os.TempDir when empty) containing every
// test file of cfg.
func New(root string, cfg types.RunConfiguration, opts Options) (ws *Workspace, err error) {
	if len(cfg.TestFiles) == 0 {
		return nil, errors.New("no test files to write")
	}
	if opts.ModulePath == "" {
		opts.ModulePath = DefaultModulePath
	}
	if opts.GoVersion == "" {
		opts.GoVersion = DefaultGoVersion
	}

	dir, err := os.MkdirTemp(root, "sanity-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	ws = &Workspace{
		dir:        dir,
		modulePath: opts.ModulePath,
		pkgDirs:    make(map[string]string),
		packages:   make(map[string]string),
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
			ws = nil
		}
	}()

	if err := ws.writeModule(opts); err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for _, name := range cfg.FileNames() {
		pkgDir := uniquePackageDir(types.TestName(name), used)
		if err := ws.writeTestFile(name, pkgDir, cfg.TestFiles[name]); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(ws.ArtifactDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return ws, nil
}

func (w *Workspace) writeModule(opts Options) error {
	mf := new(modfile.File)
	if err := mf.AddModuleStmt(opts.ModulePath); err != nil {
		return fmt.Errorf("failed to set module path: %w", err)
	}

	goVersion := opts.GoVersion
	if opts.ModuleFile != "" {
		harness, err := readModuleFile(opts.ModuleFile)
		if err != nil {
			return err
		}
		if harness.Go != nil && harness.Go.Version != "" {
			goVersion = harness.Go.Version
		}
		for _, req := range harness.Require {
			if err := mf.AddRequire(req.Mod.Path, req.Mod.Version); err != nil {
				return fmt.Errorf("failed to add requirement %s: %w", req.Mod.Path, err)
			}
		}
		baseDir := filepath.Dir(opts.ModuleFile)
		for _, rep := range harness.Replace {
			newPath := rep.New.Path
			// Local replacements are relative to the harness module.
			if rep.New.Version == "" && !filepath.IsAbs(newPath) {
				newPath = filepath.Join(baseDir, newPath)
			}
			if err := mf.AddReplace(rep.Old.Path, rep.Old.Version, newPath, rep.New.Version); err != nil {
				return fmt.Errorf("failed to add replacement %s: %w", rep.Old.Path, err)
			}
		}
		if err := copyGoSum(baseDir, w.dir); err != nil {
			return err
		}
	}
	if err := mf.AddGoStmt(goVersion); err != nil {
		return fmt.Errorf("failed to set go version: %w", err)
	}

	mf.Cleanup()
	data, err := mf.Format()
	if err != nil {
		return fmt.Errorf("failed to format go.mod: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "go.mod"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write go.mod: %w", err)
	}
	return nil
}

func readModuleFile(p string) (*modfile.File, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read module file: %w", err)
	}
	mf, err := modfile.Parse(p, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse module file: %w", err)
	}
	return mf, nil
}

func copyGoSum(fromDir, toDir string) error {
	data, err := os.ReadFile(filepath.Join(fromDir, "go.sum"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read go.sum: %w", err)
	}
	if err := os.WriteFile(filepath.Join(toDir, "go.sum"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write go.sum: %w", err)
	}
	return nil
}

func (w *Workspace) writeTestFile(name, pkgDir, source string) error {
	dir := filepath.Join(w.dir, pkgDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create package directory for %s: %w", name, err)
	}
	target := filepath.Join(dir, testFileName(name))
	if err := os.WriteFile(target, []byte(source), 0o644); err != nil {
		return fmt.Errorf("failed to write test file %s: %w", name, err)
	}
	w.pkgDirs[name] = pkgDir
	w.packages[path.Join(w.modulePath, pkgDir)] = name
	w.files = append(w.files, name)
	return nil
}

// testFileName makes sure the go tool picks the file up as a test file.
func testFileName(name string) string {
	base := filepath.Base(name)
	if strings.HasSuffix(base, testFileSuffix) {
		return base
	}
	return types.TestName(base) + testFileSuffix
}

func uniquePackageDir(testName string, used map[string]bool) string {
	dir := strings.Trim(invalidPkgChars.ReplaceAllString(testName, "_"), "_")
	if dir == "" {
		dir = "test"
	}
	candidate := dir
	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", dir, i)
	}
	used[candidate] = true
	return candidate
}

// Dir is the root of the workspace module.
func (w *Workspace) Dir() string {
	return w.dir
}

// ModulePath is the module path of the workspace.
func (w *Workspace) ModulePath() string {
	return w.modulePath
}

// Files returns the declared test files in canonical order.
func (w *Workspace) Files() []string {
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// PackageDir returns the package directory holding a declared test file.
func (w *Workspace) PackageDir(file string) string {
	return w.pkgDirs[file]
}

// FileForPackage maps an import path reported by the engine back to the
// declared test file.
func (w *Workspace) FileForPackage(importPath string) (string, bool) {
	file, ok := w.packages[importPath]
	return file, ok
}

// ArtifactDir is where tests drop failure artifacts.
func (w *Workspace) ArtifactDir() string {
	return filepath.Join(w.dir, artifactDirName)
}

// ResetArtifactDir empties the artifact directory so that nothing from a
// previous attempt survives into the next one.
func (w *Workspace) ResetArtifactDir() error {
	if err := os.RemoveAll(w.ArtifactDir()); err != nil {
		return fmt.Errorf("failed to clear artifact directory: %w", err)
	}
	if err := os.MkdirAll(w.ArtifactDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return nil
}

// Cleanup removes the workspace from disk.
func (w *Workspace) Cleanup() error {
	if w == nil || w.dir == "" {
		return nil
	}
	return os.RemoveAll(w.dir)
}
