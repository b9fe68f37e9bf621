package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/PagerDuty/go-pagerduty"
)

const (
	pagerDutyTrigger = "trigger"
	pagerDutyResolve = "resolve"

	// PagerDuty rejects summaries longer than this.
	maxSummaryChars = 1024
)

// PagingTransport raises and resolves pages keyed by a stable dedup key.
// Resolving a page that is not open is not an error.
type PagingTransport interface {
	Raise(ctx context.Context, key string, message string) (string, error)
	Resolve(ctx context.Context, key string) error
}

type manageEventFunc func(ctx context.Context, e pagerduty.V2Event) (*pagerduty.V2EventResponse, error)

// PagerDuty sends Events API v2 events.
type PagerDuty struct {
	cfg         PagerDutyConfig
	manageEvent manageEventFunc
}

var _ PagingTransport = (*PagerDuty)(nil)

// NewPagerDuty creates a PagerDuty transport from the routing config.
func NewPagerDuty(cfg PagerDutyConfig) (*PagerDuty, error) {
	if cfg.RoutingKey == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	return &PagerDuty{cfg: cfg, manageEvent: pagerduty.ManageEventWithContext}, nil
}

// Raise triggers the page for key and returns its incident dedup key.
func (p *PagerDuty) Raise(ctx context.Context, key string, message string) (string, error) {
	event := pagerduty.V2Event{
		RoutingKey: p.cfg.RoutingKey,
		Action:     pagerDutyTrigger,
		DedupKey:   key,
		Client:     DefaultPagerDutySource,
		ClientURL:  p.cfg.ClientURL,
		Payload: &pagerduty.V2Payload{
			Summary:  summary(message),
			Source:   p.cfg.Source,
			Severity: p.cfg.Severity,
			Details:  map[string]string{"message": message},
		},
	}
	resp, err := p.manageEvent(ctx, event)
	if err != nil {
		return "", fmt.Errorf("raising pagerduty incident %s: %w", key, err)
	}
	if resp != nil && resp.DedupKey != "" {
		return resp.DedupKey, nil
	}
	return key, nil
}

// Resolve resolves the page for key. PagerDuty accepts resolves for unknown
// or already resolved dedup keys, so this is idempotent.
func (p *PagerDuty) Resolve(ctx context.Context, key string) error {
	_, err := p.manageEvent(ctx, pagerduty.V2Event{
		RoutingKey: p.cfg.RoutingKey,
		Action:     pagerDutyResolve,
		DedupKey:   key,
	})
	if err != nil {
		return fmt.Errorf("resolving pagerduty incident %s: %w", key, err)
	}
	return nil
}

func summary(message string) string {
	r := []rune(message)
	if len(r) <= maxSummaryChars {
		return message
	}
	return string(r[:maxSummaryChars-3]) + "..."
}
