package sanity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-sanity/metrics"
	"github.com/ethereum-optimism/infra/op-sanity/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

var _ cliapp.Lifecycle = &server{}

// server exposes the run pipeline as a remote execution target.
type server struct {
	config  *Config
	version string
	invoke  *service.InvokeServer
	svc     *service.Service // healthz and metrics, nil in tests

	running          atomic.Bool
	shutdownCallback func(error)
}

func NewServer(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*server, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	testRunner, err := NewRunner(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	s := newServer(config, version, testRunner, shutdownCallback)
	s.svc = service.New(config.ServiceConfig())
	return s, nil
}

func newServer(config *Config, version string, r TestRunner, shutdownCallback func(error)) *server {
	handler := service.NewInvokeHandler(r, config.Log)
	return &server{
		config:           config,
		version:          version,
		invoke:           service.NewInvokeServer(config.ListenAddr, handler),
		shutdownCallback: shutdownCallback,
	}
}

// Start implements the cliapp.Lifecycle interface.
func (s *server) Start(ctx context.Context) error {
	s.running.Store(true)
	if s.svc != nil {
		s.svc.Start(ctx)
	}

	s.config.Log.Info("Starting op-sanity invoke server", "addr", s.invoke.Addr(), "version", s.version)
	go func() {
		if err := s.invoke.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.Log.Error("Invoke server failed", "error", err)
			metrics.RecordErrorDetails("invoke server", err)
			s.running.Store(false)
			s.shutdownCallback(NewRuntimeError(err))
		}
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface. In-flight runs are given
// until ctx expires to finish.
func (s *server) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-sanity invoke server")
	s.running.Store(false)
	err := s.invoke.Shutdown(ctx)
	if s.svc != nil {
		s.svc.Shutdown()
	}
	return err
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *server) Stopped() bool {
	return !s.running.Load()
}
