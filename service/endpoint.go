package service

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// endpoint is one ambient HTTP server.
type endpoint struct {
	name   string
	addr   string
	server *http.Server
}

func newEndpoint(name, addr string, handler http.Handler) *endpoint {
	return &endpoint{
		name:   name,
		addr:   addr,
		server: &http.Server{Handler: handler, Addr: addr},
	}
}

func healthzEndpoint(addr string) *endpoint {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthzPath, Healthz)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return newEndpoint("healthz", addr, c.Handler(mux))
}

func metricsEndpoint(addr string) *endpoint {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return newEndpoint("metrics", addr, mux)
}

func (e *endpoint) start() error {
	return e.server.ListenAndServe()
}

func (e *endpoint) shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

// Healthz answers liveness probes.
func Healthz(w http.ResponseWriter, r *http.Request) {
	log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
