package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

var _ Engine = (*GoTest)(nil)

// GoTestConfig configures the go test engine adapter.
type GoTestConfig struct {
	GoBinary string
	// Timeout is passed to go test; the adapter imposes no deadline itself.
	Timeout  time.Duration
	Log      log.Logger
	Observer CaseObserver

	// CommandContext builds the engine process; exec.CommandContext when nil.
	CommandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// GoTest runs workspaces with `go test -json`.
type GoTest struct {
	goBinary   string
	timeout    time.Duration
	log        log.Logger
	observer   CaseObserver
	cmdContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	tracer     trace.Tracer
}

// NewGoTest creates a go test engine adapter.
func NewGoTest(cfg GoTestConfig) *GoTest {
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.CommandContext == nil {
		cfg.CommandContext = exec.CommandContext
	}
	return &GoTest{
		goBinary:   cfg.GoBinary,
		timeout:    cfg.Timeout,
		log:        cfg.Log,
		observer:   cfg.Observer,
		cmdContext: cfg.CommandContext,
		tracer:     otel.Tracer("engine"),
	}
}

// attemptConfig is rebuilt from scratch for every attempt.
type attemptConfig struct {
	dir  string
	args []string
	env  []string
}

func (g *GoTest) buildAttempt(inv Invocation) (attemptConfig, error) {
	vars, err := json.Marshal(inv.Variables)
	if err != nil {
		return attemptConfig{}, fmt.Errorf("failed to encode variables: %w", err)
	}

	env := os.Environ()
	env = append(env,
		"GOFLAGS=-mod=mod",
		EnvRunID+"="+inv.RunID,
		EnvAttempt+"="+strconv.Itoa(inv.Attempt),
		EnvArtifactDir+"="+inv.Workspace.ArtifactDir(),
		EnvVariables+"="+string(vars),
	)
	keys := make([]string, 0, len(inv.Variables))
	for k := range inv.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, EnvVarPrefix+k+"="+inv.Variables[k])
	}

	args := []string{TestCommand, JSONFlag, CountFlag, DisableCacheCount}
	if g.timeout > 0 {
		args = append(args, TimeoutFlag, g.timeout.String())
	}
	args = append(args, AllPackagesPattern)

	return attemptConfig{dir: inv.Workspace.Dir(), args: args, env: env}, nil
}

// Execute implements Engine.
func (g *GoTest) Execute(ctx context.Context, inv Invocation) (*types.ExecutionResult, error) {
	if inv.Workspace == nil {
		return nil, NewExecutionError(inv.Attempt, errors.New("workspace is required"))
	}
	ctx, span := g.tracer.Start(ctx, "go test")
	span.SetAttributes(attribute.Int("attempt", inv.Attempt), attribute.String("run_id", inv.RunID))
	defer span.End()

	if err := inv.Workspace.ResetArtifactDir(); err != nil {
		return nil, NewExecutionError(inv.Attempt, err)
	}
	ac, err := g.buildAttempt(inv)
	if err != nil {
		return nil, NewExecutionError(inv.Attempt, err)
	}

	cmd := g.cmdContext(ctx, g.goBinary, ac.args...)
	cmd.Dir = ac.dir
	cmd.Env = ac.env
	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewExecutionError(inv.Attempt, fmt.Errorf("failed to open engine output: %w", err))
	}

	g.log.Debug("Running engine", "dir", ac.dir, "command", cmd.String(), "attempt", inv.Attempt)
	if err := cmd.Start(); err != nil {
		return nil, NewExecutionError(inv.Attempt, fmt.Errorf("failed to start engine: %w", err))
	}

	coll := newCollector(inv.Workspace)
	consumeErr := coll.Consume(stdout)
	if consumeErr != nil {
		// Drain so the engine never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	runErr := cmd.Wait()

	if consumeErr != nil {
		return nil, NewExecutionError(inv.Attempt, consumeErr)
	}
	if coll.validEvents == 0 {
		msg := "engine produced no test events"
		if runErr != nil {
			msg += ": " + runErr.Error()
		}
		return nil, NewExecutionError(inv.Attempt, fmt.Errorf("%s%s", msg, stderrSuffix(stderr)))
	}

	result := coll.Result()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, NewExecutionError(inv.Attempt, fmt.Errorf("engine did not complete: %w", runErr))
		}
		if result.Success {
			return nil, NewExecutionError(inv.Attempt, fmt.Errorf("engine exited with code %d without reporting a failure%s", exitErr.ExitCode(), stderrSuffix(stderr)))
		}
	}

	g.observe(ctx, inv, result)

	g.log.Debug("Engine finished", "attempt", inv.Attempt, "success", result.Success, "files", len(result.Files))
	return result, nil
}

// observe hands every collected case to the observer, in result order.
func (g *GoTest) observe(ctx context.Context, inv Invocation, result *types.ExecutionResult) {
	if g.observer == nil {
		return
	}
	for _, file := range result.Files {
		for _, c := range file.Cases {
			g.observer.OnCase(ctx, CaseContext{
				File:         file,
				Case:         c,
				ArtifactRoot: inv.Workspace.ArtifactDir(),
				PackageDir:   inv.Workspace.PackageDir(file.File),
			})
		}
	}
}

func stderrSuffix(b *tailBuffer) string {
	s := strings.TrimSpace(b.String())
	if s == "" {
		return ""
	}
	return "\nstderr: " + s
}
