// Package exitcodes defines the exit codes used by op-sanity.
package exitcodes

// Exit codes reported by every op-sanity command:
//
// * Success (0): all test files passed, skips included
// * TestFailure (1): at least one test file failed after its retries
// * RuntimeErr (2): the run could not complete, e.g. the engine could not
// start or the configuration is invalid
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
