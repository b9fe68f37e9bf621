package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_SANITY"

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Path to the directory from which to discover test files",
	}
	Include = &cli.StringFlag{
		Name:    "include",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INCLUDE"),
		Usage:   "Only run test files whose path matches this regular expression",
	}
	Exclude = &cli.StringFlag{
		Name:    "exclude",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXCLUDE"),
		Usage:   "Skip test files whose path matches this regular expression",
	}
	Vars = &cli.StringSliceFlag{
		Name:    "var",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VAR"),
		Usage:   "Test variable as KEY=VALUE, may be repeated (eg. 'SLACK_ALERT=1')",
	}
	MaxRetries = &cli.IntFlag{
		Name:    "max-retries",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_RETRIES"),
		Usage:   "Number of times a failing run is retried before it is reported",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout passed to the test engine for each attempt (0 disables it)",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   "results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_DIR"),
		Usage:   "Directory JUnit reports are written to",
	}
	WorkspaceRoot = &cli.StringFlag{
		Name:    "workspace-root",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKSPACE_ROOT"),
		Usage:   "Directory run workspaces are created in (defaults to the system temp dir)",
	}
	ModuleFile = &cli.StringFlag{
		Name:    "module-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODULE_FILE"),
		Usage:   "go.mod whose requirements are copied into every run workspace",
	}
	ModulePath = &cli.StringFlag{
		Name:    "module-path",
		Value:   "sanityrun",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODULE_PATH"),
		Usage:   "Module path of the generated run workspace",
	}
	AlertsConfig = &cli.StringFlag{
		Name:    "alerts-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALERTS_CONFIG"),
		Usage:   "Path to the alert routing config file (eg. 'alerts.yaml')",
	}
	SlackToken = &cli.StringFlag{
		Name:    "slack-token",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SLACK_TOKEN"),
		Usage:   "Slack bot token, overrides the alert config file",
	}
	PagerDutyRoutingKey = &cli.StringFlag{
		Name:    "pagerduty-routing-key",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PAGERDUTY_ROUTING_KEY"),
		Usage:   "PagerDuty Events v2 routing key, overrides the alert config file",
	}
	AlertConcurrency = &cli.IntFlag{
		Name:    "alert-concurrency",
		Value:   4,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ALERT_CONCURRENCY"),
		Usage:   "Maximum number of test files alerted on concurrently",
	}
	ArtifactBucket = &cli.StringFlag{
		Name:    "artifact-bucket",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT_BUCKET"),
		Usage:   "S3 bucket screenshots are uploaded to. Uploads are disabled when empty.",
	}
	ArtifactPrefix = &cli.StringFlag{
		Name:    "artifact-prefix",
		Value:   "screenshots",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT_PREFIX"),
		Usage:   "Key prefix for uploaded screenshots",
	}
	ArtifactRegion = &cli.StringFlag{
		Name:    "artifact-region",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT_REGION"),
		Usage:   "AWS region of the artifact bucket (defaults to the environment's region)",
	}
	ArtifactURLTTL = &cli.DurationFlag{
		Name:    "artifact-url-ttl",
		Value:   7 * 24 * time.Hour,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACT_URL_TTL"),
		Usage:   "Lifetime of the signed screenshot links",
	}
)

// Flags of the serve command.
var (
	ListenAddr = &cli.StringFlag{
		Name:    "listen-addr",
		Value:   "0.0.0.0:8090",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LISTEN_ADDR"),
		Usage:   "Address the invoke endpoint listens on",
	}
)

// Flags of the run-remote command.
var (
	TargetURL = &cli.StringFlag{
		Name:    "target-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET_URL"),
		Usage:   "Base URL of a remote op-sanity serve instance",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   4,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Maximum number of test files invoked concurrently",
	}
	RequestTimeout = &cli.DurationFlag{
		Name:    "request-timeout",
		Value:   15 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REQUEST_TIMEOUT"),
		Usage:   "Timeout of a single remote invocation",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	Include,
	Exclude,
	Vars,
	MaxRetries,
	GoBinary,
	Timeout,
	RunInterval,
	OutputDir,
	WorkspaceRoot,
	ModuleFile,
	ModulePath,
	AlertsConfig,
	SlackToken,
	PagerDutyRoutingKey,
	AlertConcurrency,
	ArtifactBucket,
	ArtifactPrefix,
	ArtifactRegion,
	ArtifactURLTTL,
}

// Flags are the flags of the default (local run) action.
var Flags []cli.Flag

// ServeFlags are the flags of the serve command: everything a run needs
// except what the invoke payload carries.
var ServeFlags []cli.Flag

// RemoteFlags are the flags of the run-remote command.
var RemoteFlags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)

	ServeFlags = []cli.Flag{
		ListenAddr,
		GoBinary,
		Timeout,
		OutputDir,
		WorkspaceRoot,
		ModuleFile,
		ModulePath,
		AlertsConfig,
		SlackToken,
		PagerDutyRoutingKey,
		AlertConcurrency,
		ArtifactBucket,
		ArtifactPrefix,
		ArtifactRegion,
		ArtifactURLTTL,
	}
	ServeFlags = append(ServeFlags, oplog.CLIFlags(EnvVarPrefix)...)
	ServeFlags = append(ServeFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	RemoteFlags = []cli.Flag{
		TargetURL,
		TestDir,
		Include,
		Exclude,
		Vars,
		MaxRetries,
		OutputDir,
		Concurrency,
		RequestTimeout,
	}
	RemoteFlags = append(RemoteFlags, oplog.CLIFlags(EnvVarPrefix)...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
