package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	sanity "github.com/ethereum-optimism/infra/op-sanity"
	"github.com/ethereum-optimism/infra/op-sanity/client"
	"github.com/ethereum-optimism/infra/op-sanity/flags"
	"github.com/ethereum-optimism/infra/op-sanity/reporting"
	"github.com/ethereum-optimism/infra/op-sanity/testlist"
)

// RunRemoteCommand defines the "run-remote" command for running sanity tests
// on a remote execution target.
func RunRemoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-remote",
		Usage: "Run sanity tests on a remote op-sanity serve instance",
		Description: `Discovers the test files of --testdir and invokes the target once per
file. The results are merged into a single <executionId>.junit.xml in
--output-dir and printed as a table.

Examples:
  op-sanity run-remote --target-url http://sanity:8090 --testdir ./sanity
  op-sanity run-remote --target-url http://sanity:8090 --testdir ./sanity --include 'login' --var SLACK_ALERT=1`,
		Flags:  flags.RemoteFlags,
		Action: runRemoteAction,
	}
}

func runRemoteAction(c *cli.Context) error {
	logger := setupLogger(c)

	if err := flags.CheckRequired(c); err != nil {
		return sanity.NewRuntimeError(err)
	}
	testDir, err := filepath.Abs(c.String(flags.TestDir.Name))
	if err != nil {
		return sanity.NewRuntimeError(fmt.Errorf("failed to resolve test directory: %w", err))
	}
	filter, err := testlist.NewFilter(c.String(flags.Include.Name), c.String(flags.Exclude.Name))
	if err != nil {
		return sanity.NewRuntimeError(err)
	}
	vars, err := sanity.ParseVariables(c.StringSlice(flags.Vars.Name))
	if err != nil {
		return sanity.NewRuntimeError(err)
	}

	cl, err := client.New(client.Config{
		TargetURL:      c.String(flags.TargetURL.Name),
		TestDir:        testDir,
		Filter:         filter,
		Variables:      vars,
		MaxRetries:     c.Int(flags.MaxRetries.Name),
		OutputDir:      c.String(flags.OutputDir.Name),
		Concurrency:    c.Int(flags.Concurrency.Name),
		RequestTimeout: c.Duration(flags.RequestTimeout.Name),
		Log:            logger,
	})
	if err != nil {
		return sanity.NewRuntimeError(err)
	}

	result, err := cl.Run(c.Context)
	if result != nil {
		reporting.RenderTable(os.Stdout, result.Aggregates()...)
	}
	if err != nil {
		return sanity.NewRuntimeError(err)
	}

	if !result.Passed() {
		return sanity.NewTestFailureError(result.FailedFiles())
	}
	logger.Info("Remote run passed", "executionId", result.ExecutionID, "junit", result.JUnitPath)
	return nil
}
