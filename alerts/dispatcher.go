package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-sanity/metrics"
)

const (
	DefaultMaxConcurrency = 4

	channelSlack     = "slack"
	channelPagerDuty = "pagerduty"
)

// DispatcherConfig configures a Dispatcher. Nil transports disable the
// corresponding channel; decisions that need it are logged as undeliverable.
type DispatcherConfig struct {
	Chat           ChatTransport
	Paging         PagingTransport
	Log            log.Logger
	MaxConcurrency int
}

// Dispatcher delivers alert decisions, best effort and independently per
// file.
type Dispatcher struct {
	chat           ChatTransport
	paging         PagingTransport
	log            log.Logger
	maxConcurrency int
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Dispatcher{
		chat:           cfg.Chat,
		paging:         cfg.Paging,
		log:            cfg.Log,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// Dispatch delivers every decision; for a single file chat is sent before
// the page. Delivery failures never stop other deliveries. The returned
// error joins every delivery failure and is meant for reporting only.
func (d *Dispatcher) Dispatch(ctx context.Context, decisions []Decision) error {
	p := pool.New().
		WithErrors().
		WithMaxGoroutines(d.maxConcurrency).
		WithContext(ctx)
	for _, decision := range decisions {
		decision := decision
		p.Go(func(ctx context.Context) error {
			return d.dispatchOne(ctx, decision)
		})
	}
	return p.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, decision Decision) error {
	var errs []error
	switch decision.Action {
	case ActionRaise:
		if decision.Chat {
			errs = append(errs, d.sendChat(ctx, decision))
		}
		if decision.Page {
			errs = append(errs, d.raisePage(ctx, decision))
		}
	case ActionResolve:
		errs = append(errs, d.resolvePage(ctx, decision))
	case ActionSuppress:
		d.log.Debug("Run failed but no alert channel is enabled", "file", decision.File)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) sendChat(ctx context.Context, decision Decision) error {
	var err error
	if d.chat == nil {
		err = errors.New("no chat transport configured")
	} else {
		err = d.chat.Send(ctx, decision.Message, decision.Channels)
	}
	metrics.RecordAlert(channelSlack, string(decision.Action), err)
	if err != nil {
		d.log.Error("Failed to send chat alert", "file", decision.File, "channels", decision.Channels, "error", err)
		return fmt.Errorf("chat alert for %s: %w", decision.File, err)
	}
	d.log.Info("Sent chat alert", "file", decision.File, "channels", decision.Channels)
	return nil
}

func (d *Dispatcher) raisePage(ctx context.Context, decision Decision) error {
	var (
		incident string
		err      error
	)
	if d.paging == nil {
		err = errors.New("no paging transport configured")
	} else {
		incident, err = d.paging.Raise(ctx, decision.PageKey, decision.Message)
	}
	metrics.RecordAlert(channelPagerDuty, string(decision.Action), err)
	if err != nil {
		d.log.Error("Failed to raise page", "file", decision.File, "key", decision.PageKey, "error", err)
		return fmt.Errorf("page for %s: %w", decision.File, err)
	}
	d.log.Info("Raised page", "file", decision.File, "incident", incident)
	return nil
}

func (d *Dispatcher) resolvePage(ctx context.Context, decision Decision) error {
	var err error
	if d.paging == nil {
		err = errors.New("no paging transport configured")
	} else {
		err = d.paging.Resolve(ctx, decision.PageKey)
	}
	metrics.RecordAlert(channelPagerDuty, string(decision.Action), err)
	if err != nil {
		d.log.Error("Failed to resolve page", "file", decision.File, "key", decision.PageKey, "error", err)
		return fmt.Errorf("resolve for %s: %w", decision.File, err)
	}
	d.log.Debug("Resolved page", "file", decision.File, "key", decision.PageKey)
	return nil
}
