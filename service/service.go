package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sanity/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"
)

// Config selects the addresses of the ambient servers. An empty address
// disables that server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

// DefaultConfig serves both endpoints on their well-known ports.
func DefaultConfig() Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(MetricsHost, MetricsPort),
	}
}

// Service runs the healthz and metrics servers next to a command.
type Service struct {
	ctx       context.Context
	endpoints []*endpoint
}

func New(cfg Config) *Service {
	s := &Service{}
	if cfg.HealthzAddr != "" {
		s.endpoints = append(s.endpoints, healthzEndpoint(cfg.HealthzAddr))
	}
	if cfg.MetricsAddr != "" {
		s.endpoints = append(s.endpoints, metricsEndpoint(cfg.MetricsAddr))
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	log.Info("service starting")
	s.ctx = ctx

	for _, e := range s.endpoints {
		go func() {
			log.Info("starting "+e.name+" server", "addr", e.addr)
			if err := e.start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting "+e.name+" server", "err", err)
				metrics.RecordErrorDetails(e.name, err)
			}
		}()
	}

	log.Info("service started")
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, e := range s.endpoints {
		_ = e.shutdown(ctx)
		log.Info(e.name + " stopped")
	}

	log.Info("service stopped")
}
