// Package httptransport assembles the public HTTP surface from the feature
// handlers and the shared middleware chain.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spendwise/pkg/platform/httputil"
	adminmw "spendwise/pkg/platform/middleware/admin"
	authmw "spendwise/pkg/platform/middleware/auth"
	"spendwise/pkg/platform/middleware/metadata"
	"spendwise/pkg/platform/middleware/request"
	"spendwise/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger         *slog.Logger
	JWT            authmw.JWTValidator
	AdminTokenHash []byte

	// User routes authenticate with a bearer token.
	User []Registrar
	// Admin routes authenticate with the operator token.
	Admin []Registrar

	Health         map[string]HealthCheck
	MetricsHandler http.Handler
}

func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.Logger(cfg.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)
	r.Get("/healthz", healthHandler(cfg.Health))

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(cfg.JWT, cfg.Logger))
		for _, h := range cfg.User {
			h.Register(r)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(cfg.AdminTokenHash, cfg.Logger))
		for _, h := range cfg.Admin {
			h.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
