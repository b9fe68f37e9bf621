// Package runner orchestrates a sanity run.
//
// The main components are:
//   - RunWithRetry: invokes the execution engine until an attempt succeeds or
//     the retry bound is reached; the last attempt is authoritative
//   - Runner: owns the workspace of one run, drives the retry loop, and hands
//     the aggregate to reporting and alert dispatch
//
// A run never merges results across attempts, and the workspace is removed on
// every exit path.
package runner
