package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"

	"github.com/ethereum-optimism/infra/op-sanity/engine"
	"github.com/ethereum-optimism/infra/op-sanity/metrics"
	"github.com/ethereum-optimism/infra/op-sanity/runner"
	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const (
	InvokePath  = "/invoke"
	HealthzPath = "/healthz"

	maxPayloadBytes = 32 * 1024 * 1024
)

// RunTester runs one orchestrated run.
type RunTester interface {
	RunTests(ctx context.Context, cfg types.RunConfiguration) (*runner.Report, error)
}

// InvokeHandler is the remote execution target: it accepts an InvokePayload
// and answers with the outcome of the run. Runs are serialized.
type InvokeHandler struct {
	runner RunTester
	log    log.Logger
	router *mux.Router
	mu     sync.Mutex
}

func NewInvokeHandler(r RunTester, lgr log.Logger) *InvokeHandler {
	h := &InvokeHandler{
		runner: r,
		log:    lgr,
		router: mux.NewRouter(),
	}
	h.router.HandleFunc(InvokePath, h.handleInvoke).Methods(http.MethodPost)
	h.router.HandleFunc(HealthzPath, Healthz).Methods(http.MethodGet)
	return h
}

func (h *InvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *InvokeHandler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var payload types.InvokePayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(&payload); err != nil {
		h.log.Warn("Rejected invoke payload", "error", err)
		writeInvokeResponse(w, http.StatusBadRequest, failedResponse("invalid payload: "+err.Error(), "BadRequest"))
		return
	}
	if len(payload.TestFiles) == 0 {
		writeInvokeResponse(w, http.StatusBadRequest, failedResponse("testFiles must not be empty", "BadRequest"))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.log.Info("Invoked", "executionId", payload.ExecutionID, "files", len(payload.TestFiles), "retryCount", payload.RetryCount)
	report, err := h.runner.RunTests(r.Context(), types.RunConfiguration{
		ExecutionID: payload.ExecutionID,
		TestFiles:   payload.TestFiles,
		Variables:   payload.TestVariables,
		MaxRetries:  payload.RetryCount,
	})

	resp, status := toInvokeResponse(report, err)
	if err != nil {
		metrics.RecordErrorDetails("invoke", err)
		h.log.Error("Invoked run did not complete", "executionId", payload.ExecutionID, "error", err)
	}
	writeInvokeResponse(w, status, resp)
}

// toInvokeResponse maps a run outcome onto the wire response. A run that
// produced a report answers 200 even when the engine failed; the error is
// carried in the body.
func toInvokeResponse(report *runner.Report, err error) (types.InvokeResponse, int) {
	var resp types.InvokeResponse
	status := http.StatusOK
	if report != nil {
		resp.Passed = err == nil && report.Passed()
		resp.Results = report.Aggregate
		if report.Aggregate != nil && report.Aggregate.Result != nil {
			if shots := report.Aggregate.Result.Artifacts(); len(shots) > 0 {
				resp.Screenshots = shots
			}
		}
		if report.JUnit != nil {
			if b, mErr := report.JUnit.Marshal(); mErr == nil {
				resp.JUnit = string(b)
			}
		}
	} else {
		status = http.StatusInternalServerError
	}
	if err != nil {
		resp.Errors = append(resp.Errors, types.InvokeError{Message: err.Error(), Name: errorName(err)})
	}
	return resp, status
}

func errorName(err error) string {
	var execErr *engine.ExecutionError
	if errors.As(err, &execErr) {
		return "ExecutionError"
	}
	return "RuntimeError"
}

func failedResponse(message, name string) types.InvokeResponse {
	return types.InvokeResponse{Errors: []types.InvokeError{{Message: message, Name: name}}}
}

func writeInvokeResponse(w http.ResponseWriter, status int, resp types.InvokeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("failed to send invoke response", "error", err)
	}
}

// InvokeServer serves an InvokeHandler.
type InvokeServer struct {
	server *http.Server
}

func NewInvokeServer(addr string, h http.Handler) *InvokeServer {
	return &InvokeServer{server: &http.Server{
		Handler: h,
		Addr:    addr,
	}}
}

func (s *InvokeServer) Addr() string {
	return s.server.Addr
}

func (s *InvokeServer) Start() error {
	return s.server.ListenAndServe()
}

func (s *InvokeServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
