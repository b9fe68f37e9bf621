package engine

// Go test2json (TestEvent) action constants
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

const (
	DefaultGoBinary = "go"

	TestCommand       = "test"
	JSONFlag          = "-json"
	CountFlag         = "-count"
	TimeoutFlag       = "-timeout"
	DisableCacheCount = "1"

	AllPackagesPattern = "./..."
)

// Environment handed to the tests of every attempt.
const (
	EnvRunID       = "SANITY_RUN_ID"
	EnvVariables   = "SANITY_VARIABLES"
	EnvVarPrefix   = "SANITY_VAR_"
	EnvArtifactDir = "SANITY_ARTIFACT_DIR"
	EnvAttempt     = "SANITY_ATTEMPT"
)

const (
	msgNoResults      = "no results reported for test file"
	msgNoCases        = "no test cases found in test file"
	msgIncomplete     = "test did not complete"
	msgTestFailed     = "test failed"
	msgFileFailed     = "test file failed to run"
	stderrTailBytes   = 64 * 1024
	maxEventLineBytes = 16 * 1024 * 1024
)
