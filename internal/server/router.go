package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/idempotency"
)

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	API              *APIHandlers
	Idempotency      idempotency.Store
	AllowedOrigins   []string
	AllowCredentials bool
	MetricsEnabled   bool
}

// NewRouter wires the HTTP routes exposed by the backend API.
func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metricsMiddleware)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(deps.AllowedOrigins, deps.AllowCredentials))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]any{
			"status": "ok",
		}

		if deps.Health != nil {
			if err := deps.Health.Probe(ctx); err != nil {
				logger.Error("health probe failed", "error", err)
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}

		respondJSON(w, status, payload)
	})

	if deps.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	if deps.API != nil {
		r.Route("/api", func(r chi.Router) {
			deps.API.mount(r, deps.Idempotency)
		})
	}

	return r
}

func (h *APIHandlers) mount(r chi.Router, idem idempotency.Store) {
	r.Post("/auth/login", h.login)
	r.Post("/auth/register", h.register)

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)

		r.Post("/auth/logout", h.logout)
		r.Get("/session", h.currentSession)
		r.Post("/graph", h.buildGraph)
		r.Get("/wallet/balance", h.balance)

		r.With(requireRole(domain.RoleUser, domain.RoleAdmin), idempotencyMiddleware(idem)).
			Post("/transactions", h.submitTransaction)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(domain.RoleAdmin))
			r.Post("/deposit", h.deposit)
			r.Post("/sync", h.syncFlagged)
			r.Post("/mine", h.mine)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(domain.RoleAdmin, domain.RoleAuditor))
			r.Get("/overview", h.overview)
			r.Get("/audit/transactions", h.auditTransactions)
			r.Get("/audit/blocks", h.auditBlocks)
			r.Get("/flagged", h.listFlagged)
			r.Get("/flagged/stored", h.listStoredFlagged)
			r.Get("/flagged/{id}/graph", h.flaggedGraph)
			r.Get("/accounts/{id}/flagged", h.accountFlagged)
		})
	})
}

func idempotencyMiddleware(store idempotency.Store) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return idempotency.Middleware(store, func(r *http.Request) string {
		sess, _ := sessionFrom(r.Context())
		return sess.Email
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func corsMiddleware(allowedOrigins []string, allowCredentials bool) func(http.Handler) http.Handler {
	normalized := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		normalized[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || (!containsOrigin(normalized, origin) && !containsOrigin(normalized, "*")) {
				if r.Method == http.MethodOptions {
					// Reject bare pre-flight if origin is not whitelisted.
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			if allowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Idempotency-Hit")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func containsOrigin(set map[string]struct{}, origin string) bool {
	_, ok := set[origin]
	return ok
}
