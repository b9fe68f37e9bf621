// Package sanitytest gives sanity tests access to the run they are part of:
// the run variables, the run ID and a place to leave artifacts such as
// screenshots. Artifacts written under ArtifactPath by a failing test are
// uploaded and linked from its result.
package sanitytest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

// Variables returns the run variables. Outside of a run it is empty.
func Variables() types.Variables {
	vars := make(types.Variables)
	if raw := os.Getenv(engine.EnvVariables); raw != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err == nil {
			return vars
		}
	}
	// fall back to the per-variable environment
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if name, ok := strings.CutPrefix(key, engine.EnvVarPrefix); ok && name != "" {
			vars[name] = value
		}
	}
	return vars
}

// Var returns a single run variable, or "" when unset.
func Var(key string) string {
	if v, ok := os.LookupEnv(engine.EnvVarPrefix + key); ok {
		return v
	}
	return Variables()[key]
}

// RunID returns the ID of the run executing the test.
func RunID() string {
	return os.Getenv(engine.EnvRunID)
}

// ArtifactPath returns the path a test should write the named artifact to,
// creating its directory. Artifacts are grouped by package and top-level test
// so they are attached to the right case. Outside of a run the path points
// into t.TempDir().
func ArtifactPath(t testing.TB, filename string) string {
	t.Helper()

	root := os.Getenv(engine.EnvArtifactDir)
	if root == "" {
		return filepath.Join(t.TempDir(), filepath.Base(filename))
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to resolve package directory: %v", err)
	}
	testName, _, _ := strings.Cut(t.Name(), "/")

	dir := filepath.Join(root, filepath.Base(wd), testName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create artifact directory: %v", err)
	}
	return filepath.Join(dir, filepath.Base(filename))
}
