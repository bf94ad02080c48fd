// Package server exposes the pipeline over HTTP: a synchronous ask endpoint,
// a streaming variant, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/metrics"
	"github.com/a-marczewski/ragline/internal/pipeline"
)

// HealthProbe reports the readiness of one named dependency.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP front of the pipeline.
type Server struct {
	sequencer  *pipeline.Sequencer
	probes     []HealthProbe
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server. metrics may be nil to disable /metrics.
func NewServer(sequencer *pipeline.Sequencer, m *metrics.Metrics, probes []HealthProbe, logger *zap.Logger, listenAddr string) *Server {
	s := &Server{
		sequencer: sequencer,
		probes:    probes,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/ask/stream", s.handleAskStream)
	mux.HandleFunc("/healthz", s.handleHealth)
	if m != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	result := s.sequencer.Run(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// handleAskStream emits stage progress as server-sent events, terminated by a
// result event carrying the same shape as the synchronous endpoint.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range s.sequencer.Stream(r.Context(), req) {
		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to encode event", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
		flusher.Flush()
	}
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Checks: make(map[string]string)}
	code := http.StatusOK

	for _, probe := range s.probes {
		if err := probe.Check(ctx); err != nil {
			status.Status = "degraded"
			status.Checks[probe.Name] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks[probe.Name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
