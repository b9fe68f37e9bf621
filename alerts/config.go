package alerts

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPageKeyPrefix     = "op-sanity"
	DefaultPagerDutySeverity = "critical"
	DefaultPagerDutySource   = "op-sanity"
	DefaultBotName           = "sanity-runner"
)

// Config is the alert routing file.
type Config struct {
	Slack     SlackConfig     `yaml:"slack"`
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
}

type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	BotName string `yaml:"bot_name,omitempty"`
}

type PagerDutyConfig struct {
	RoutingKey     string `yaml:"routing_key"`
	Severity       string `yaml:"severity,omitempty"`
	Source         string `yaml:"source,omitempty"`
	ClientURL      string `yaml:"client_url,omitempty"`
	DedupKeyPrefix string `yaml:"dedup_key_prefix,omitempty"`
}

// LoadConfig reads the routing file at path. An empty path yields an empty
// config with defaults applied.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		log.Debug("Reading alert config file", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading alert config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing alert config file: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Slack.BotName == "" {
		c.Slack.BotName = DefaultBotName
	}
	if c.PagerDuty.Severity == "" {
		c.PagerDuty.Severity = DefaultPagerDutySeverity
	}
	if c.PagerDuty.Source == "" {
		c.PagerDuty.Source = DefaultPagerDutySource
	}
	if c.PagerDuty.DedupKeyPrefix == "" {
		c.PagerDuty.DedupKeyPrefix = DefaultPageKeyPrefix
	}
}

// Routing returns the destinations used by Decide.
func (c *Config) Routing() Routing {
	return Routing{
		DefaultChannel: c.Slack.Channel,
		PageKeyPrefix:  c.PagerDuty.DedupKeyPrefix,
	}
}

// ChatConfigured reports whether a Slack transport can be built.
func (c *Config) ChatConfigured() bool {
	return c.Slack.Token != ""
}

// PagingConfigured reports whether a PagerDuty transport can be built.
func (c *Config) PagingConfigured() bool {
	return c.PagerDuty.RoutingKey != ""
}
