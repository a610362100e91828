// Package server exposes the dispatcher over HTTP for long-running use.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"holectl/internal/domain"
	"holectl/internal/metrics"
	"holectl/internal/request"

	"github.com/go-chi/chi/v5"
)

const maxBodySize = 1 << 20 // 1MB

// Dispatcher runs one action. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.ActionRequest) domain.Result
}

// AuditLog lists recorded actions. *audit.Store implements it.
type AuditLog interface {
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type Server struct {
	addr       string
	apiKey     string
	ratePerMin float64
	rateBurst  int
	dispatcher Dispatcher
	audit      AuditLog
	logger     *slog.Logger
	server     *http.Server
}

type Config struct {
	Addr   string
	APIKey string // optional bearer key for /v1
	// RateLimitPerMinute caps POST /v1/actions; 0 disables the limiter.
	RateLimitPerMinute float64
	RateLimitBurst     int
	Dispatcher         Dispatcher
	Audit              AuditLog // optional; enables GET /v1/audit
	Logger             *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:       cfg.Addr,
		apiKey:     cfg.APIKey,
		ratePerMin: cfg.RateLimitPerMinute,
		rateBurst:  cfg.RateLimitBurst,
		dispatcher: cfg.Dispatcher,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.logger))
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", metrics.Collector.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.apiKey))
		r.With(inflightMiddleware, rateLimit(s.ratePerMin, s.rateBurst)).Post("/actions", s.handleAction)
		r.Get("/actions", s.handleListActions)
		if s.audit != nil {
			r.Get("/audit", s.handleAudit)
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("daemon listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("daemon stopped")
	return nil
}

// handleAction accepts the same parameters as the stdin payload, either bare
// or wrapped in {"configuration":{"parameters":...}}.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	params, err := request.FromPayload(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Failed("", err, nil))
		return
	}
	req, err := request.Build(params)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Failed(params.Action, err, nil))
		return
	}

	s.logger.Debug("dispatching", "request_id", requestIDFrom(r.Context()), "action", req.Action.String())
	res := s.dispatcher.Dispatch(r.Context(), req)
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"actions": domain.ActionNames()})
}

type auditEntryView struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Domain     string    `json:"domain,omitempty"`
	OK         bool      `json:"ok"`
	Status     int       `json:"status,omitempty"`
	ErrorKind  string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retried    bool      `json:"retried"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("audit query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	out := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// statusFor maps a Result to the daemon's HTTP status.
func statusFor(res domain.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuth, domain.KindTransport, domain.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
