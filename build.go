package sanity

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-sanity/alerts"
	"github.com/ethereum-optimism/infra/op-sanity/artifacts"
	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/runner"
)

// NewRunner assembles the run pipeline described by cfg: the go test engine
// with the artifact reporter observing its cases, and the alert dispatcher
// for whichever transports are configured.
func NewRunner(ctx context.Context, cfg *Config) (*runner.Runner, error) {
	alertCfg, err := alerts.LoadConfig(cfg.AlertsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert config: %w", err)
	}
	if cfg.SlackToken != "" {
		alertCfg.Slack.Token = cfg.SlackToken
	}
	if cfg.PagerDutyRoutingKey != "" {
		alertCfg.PagerDuty.RoutingKey = cfg.PagerDutyRoutingKey
	}

	dispatcher, err := newDispatcher(cfg, alertCfg)
	if err != nil {
		return nil, err
	}

	reporter, err := newArtifactReporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	eng := engine.NewGoTest(engine.GoTestConfig{
		GoBinary: cfg.GoBinary,
		Timeout:  cfg.Timeout,
		Log:      cfg.Log,
		Observer: reporter,
	})

	return runner.New(runner.Config{
		Engine:           eng,
		Dispatcher:       dispatcher,
		Routing:          alertCfg.Routing(),
		Log:              cfg.Log,
		WorkspaceRoot:    cfg.WorkspaceRoot,
		WorkspaceOptions: cfg.Workspace,
		OutputDir:        cfg.OutputDir,
	})
}

func newDispatcher(cfg *Config, alertCfg *alerts.Config) (*alerts.Dispatcher, error) {
	dcfg := alerts.DispatcherConfig{
		Log:            cfg.Log,
		MaxConcurrency: cfg.AlertConcurrency,
	}
	if alertCfg.ChatConfigured() {
		slack, err := alerts.NewSlack(alertCfg.Slack)
		if err != nil {
			return nil, fmt.Errorf("failed to create slack transport: %w", err)
		}
		dcfg.Chat = slack
	} else {
		cfg.Log.Info("Slack is not configured, chat alerts will not be delivered")
	}
	if alertCfg.PagingConfigured() {
		pd, err := alerts.NewPagerDuty(alertCfg.PagerDuty)
		if err != nil {
			return nil, fmt.Errorf("failed to create pagerduty transport: %w", err)
		}
		dcfg.Paging = pd
	} else {
		cfg.Log.Info("PagerDuty is not configured, pages will not be delivered")
	}
	return alerts.NewDispatcher(dcfg), nil
}

func newArtifactReporter(ctx context.Context, cfg *Config) (*artifacts.Reporter, error) {
	rcfg := artifacts.Config{
		TTL: cfg.Artifacts.URLTTL,
		Log: cfg.Log,
	}
	if cfg.Artifacts.Bucket != "" {
		store, err := artifacts.NewS3Store(ctx, artifacts.S3Config{
			Bucket: cfg.Artifacts.Bucket,
			Prefix: cfg.Artifacts.Prefix,
			Region: cfg.Artifacts.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact store: %w", err)
		}
		rcfg.Store = store
	} else {
		cfg.Log.Info("No artifact bucket configured, screenshots will be discarded")
	}
	return artifacts.NewReporter(rcfg), nil
}
