package sanity

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-sanity/flags"
	"github.com/ethereum-optimism/infra/op-sanity/service"
	"github.com/ethereum-optimism/infra/op-sanity/testlist"
	"github.com/ethereum-optimism/infra/op-sanity/types"
	"github.com/ethereum-optimism/infra/op-sanity/workspace"
)

// ArtifactConfig selects where failure screenshots are uploaded. Uploads are
// disabled without a bucket.
type ArtifactConfig struct {
	Bucket string
	Prefix string
	Region string
	URLTTL time.Duration
}

// Config holds the application configuration
type Config struct {
	TestDir     string
	Filter      testlist.Filter
	Variables   types.Variables
	MaxRetries  int
	GoBinary    string
	Timeout     time.Duration // passed to the engine for every attempt
	RunInterval time.Duration // Interval between test runs
	RunOnce     bool          // Indicates if the service should exit after one test run

	OutputDir     string // JUnit reports land here
	WorkspaceRoot string
	Workspace     workspace.Options

	AlertsConfig        string // alert routing file, optional
	SlackToken          string
	PagerDutyRoutingKey string
	AlertConcurrency    int
	Artifacts           ArtifactConfig

	ListenAddr    string // serve mode only
	MetricsConfig opmetrics.CLIConfig
	Log           log.Logger
}

// NewConfig creates the configuration of a local run from the cli context.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}

	filter, err := testlist.NewFilter(ctx.String(flags.Include.Name), ctx.String(flags.Exclude.Name))
	if err != nil {
		return nil, err
	}
	vars, err := ParseVariables(ctx.StringSlice(flags.Vars.Name))
	if err != nil {
		return nil, err
	}
	maxRetries := ctx.Int(flags.MaxRetries.Name)
	if maxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", maxRetries)
	}

	cfg, err := readCommon(ctx, log)
	if err != nil {
		return nil, err
	}
	cfg.TestDir = absTestDir
	cfg.Filter = filter
	cfg.Variables = vars
	cfg.MaxRetries = maxRetries
	cfg.RunInterval = ctx.Duration(flags.RunInterval.Name)
	cfg.RunOnce = cfg.RunInterval == 0
	return cfg, nil
}

// NewServeConfig creates the configuration of the remote execution target.
// Test files, variables and retries arrive with every invocation.
func NewServeConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	cfg, err := readCommon(ctx, log)
	if err != nil {
		return nil, err
	}
	cfg.ListenAddr = ctx.String(flags.ListenAddr.Name)
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	return cfg, nil
}

func readCommon(ctx *cli.Context, log log.Logger) (*Config, error) {
	outputDir := ctx.String(flags.OutputDir.Name)
	if outputDir != "" {
		abs, err := filepath.Abs(outputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for output directory '%s': %w", outputDir, err)
		}
		outputDir = abs
	}

	moduleFile := ctx.String(flags.ModuleFile.Name)
	if moduleFile != "" {
		abs, err := filepath.Abs(moduleFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for module file '%s': %w", moduleFile, err)
		}
		moduleFile = abs
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		GoBinary:      ctx.String(flags.GoBinary.Name),
		Timeout:       ctx.Duration(flags.Timeout.Name),
		OutputDir:     outputDir,
		WorkspaceRoot: ctx.String(flags.WorkspaceRoot.Name),
		Workspace: workspace.Options{
			ModulePath: ctx.String(flags.ModulePath.Name),
			ModuleFile: moduleFile,
		},
		AlertsConfig:        ctx.String(flags.AlertsConfig.Name),
		SlackToken:          ctx.String(flags.SlackToken.Name),
		PagerDutyRoutingKey: ctx.String(flags.PagerDutyRoutingKey.Name),
		AlertConcurrency:    ctx.Int(flags.AlertConcurrency.Name),
		Artifacts: ArtifactConfig{
			Bucket: ctx.String(flags.ArtifactBucket.Name),
			Prefix: ctx.String(flags.ArtifactPrefix.Name),
			Region: ctx.String(flags.ArtifactRegion.Name),
			URLTTL: ctx.Duration(flags.ArtifactURLTTL.Name),
		},
		MetricsConfig: metricsCfg,
		Log:           log,
	}, nil
}

// ParseVariables turns KEY=VALUE pairs into run variables. Later pairs win.
func ParseVariables(pairs []string) (types.Variables, error) {
	vars := make(types.Variables, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected KEY=VALUE", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// ServiceConfig derives the ambient healthz and metrics endpoints. Metrics
// are only served when enabled through the metrics flags.
func (c *Config) ServiceConfig() service.Config {
	cfg := service.Config{
		HealthzAddr: net.JoinHostPort(service.HealthzHost, service.HealthzPort),
	}
	if c.MetricsConfig.Enabled {
		cfg.MetricsAddr = net.JoinHostPort(c.MetricsConfig.ListenAddr, strconv.Itoa(c.MetricsConfig.ListenPort))
	}
	return cfg
}
