package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	sanity "github.com/ethereum-optimism/infra/op-sanity"
	"github.com/ethereum-optimism/infra/op-sanity/flags"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// ServeCommand defines the "serve" command, which exposes the run pipeline
// as a remote execution target.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve sanity runs over HTTP",
		Description: `Starts an HTTP server accepting run invocations:

  POST /invoke   run the test files of the payload and answer the results
  GET  /healthz  liveness

Runs are executed one at a time. Test files, variables and retries arrive
with every invocation; everything else is configured by flags.`,
		Flags:  cliapp.ProtectFlags(flags.ServeFlags),
		Action: cliapp.LifecycleCmd(serve),
	}
}

func serve(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logger := setupLogger(ctx)

	cfg, err := sanity.NewServeConfig(ctx, logger)
	if err != nil {
		return nil, sanity.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	srv, err := sanity.NewServer(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, sanity.NewRuntimeError(fmt.Errorf("failed to create server: %w", err))
	}
	return srv, nil
}
