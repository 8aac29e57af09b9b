package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datatalk/datatalk/internal/chat"
	"github.com/datatalk/datatalk/internal/config"
	"github.com/datatalk/datatalk/internal/observability"
)

type ReadinessCheck func(ctx context.Context) error

// SessionRegistry is the slice of the session registry the HTTP layer needs.
type SessionRegistry interface {
	Create(owner string) (*chat.Conversation, error)
	Get(id, owner string) (*chat.Conversation, error)
	Delete(ctx context.Context, id, owner string) error
	IDs(owner string) []string
}

type Dependencies struct {
	Logger           *slog.Logger
	Readiness        ReadinessCheck
	AuthMiddleware   func(http.Handler) http.Handler
	DependencyTimout time.Duration
	Sessions         SessionRegistry
}

var protectedRoutes = []string{
	"GET /v1/sessions",
	"POST /v1/sessions",
	"GET /v1/sessions/{session}",
	"DELETE /v1/sessions/{session}",
	"PUT /v1/sessions/{session}/dataset",
	"GET /v1/sessions/{session}/turns",
	"POST /v1/sessions/{session}/turns",
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	s := &sessionHandlers{deps: deps, maxBodyBytes: int64(cfg.HTTP.MaxBodyBytes)}
	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/sessions", s.list)
	protected.HandleFunc("POST /v1/sessions", s.create)
	protected.HandleFunc("GET /v1/sessions/{session}", s.get)
	protected.HandleFunc("DELETE /v1/sessions/{session}", s.delete)
	protected.HandleFunc("PUT /v1/sessions/{session}/dataset", s.replaceDataset)
	protected.HandleFunc("GET /v1/sessions/{session}/turns", s.listTurns)
	protected.HandleFunc("POST /v1/sessions/{session}/turns", s.submitTurn)

	var protectedHandler http.Handler = protected
	if deps.Sessions == nil {
		protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		})
	}
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, pattern := range protectedRoutes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
