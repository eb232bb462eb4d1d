// Package httpserver exposes the relay over HTTP: a WebSocket endpoint for
// multiplexed bidirectional streaming, OpenAI-style chat and completion
// endpoints with SSE streaming, and operational endpoints for health,
// metrics and audit queries.
package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/producer"
)

// Config carries per-connection supervision settings shared by all
// transports.
type Config struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxStreams        int
}

// Server wires producers, metrics and auditing into HTTP handlers.
type Server struct {
	prod       producer.Producer
	collector  *metrics.Collector
	auditStore audit.Store
	logger     *log.Logger
	cfg        Config
	observer   conn.Observer
}

// NewServer builds a server. auditStore and logger may be nil.
func NewServer(prod producer.Producer, collector *metrics.Collector, auditStore audit.Store, logger *log.Logger, cfg Config) *Server {
	s := &Server{
		prod:       prod,
		collector:  collector,
		auditStore: auditStore,
		logger:     logger,
		cfg:        cfg,
	}
	s.observer = multiObserver{collector, audit.NewObserver(auditStore)}
	return s
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/stream", s.handleStream)
		v1.Post("/chat/completions", s.handleChat)
		v1.Post("/completions", s.handleCompletion)
		v1.Get("/audit/recent", s.handleAuditRecent)
		v1.Get("/audit/summary", s.handleAuditSummary)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		s.respondError(w, http.StatusNotFound, "auditing disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.auditStore.ListRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		s.respondError(w, http.StatusNotFound, "auditing disabled")
		return
	}
	summary, err := s.auditStore.Summary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Printf("respond json: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// multiObserver fans terminal observations out to each member.
type multiObserver []conn.Observer

func (m multiObserver) ObserveTerminal(transport, operation string, duration time.Duration, success bool) {
	for _, obs := range m {
		if obs != nil {
			obs.ObserveTerminal(transport, operation, duration, success)
		}
	}
}
