/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (slog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request duration by route pattern
  5. CORS:       Cross-origin requests for the kiosk and admin frontends
  6. Auth:       Bearer JWT on /api (tenant, user, role)

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/tokens/*         Token issuance (any role)
  /api/schedules/*      Schedule reads (any role), writes (admin)
  /api/scenarios/*      Demo scenarios (admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: JWT middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/meal-token-engine/logging"
)

// RouterConfig carries the router's collaborators besides the handler.
type RouterConfig struct {
	Tokens         *TokenManager
	Metrics        *Metrics
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Instrument)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(cfg.Tokens))

		// Token routes
		r.Route("/tokens", func(r chi.Router) {
			r.Post("/", h.IssueToken)
			r.Get("/{id}", h.GetToken)
			r.Post("/{id}/confirm", h.ConfirmToken)
		})

		// Schedule routes
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/{id}", h.GetSchedule)
			r.Post("/validate", h.ValidateSchedule)
			r.With(RequireRole(RoleAdmin)).Post("/", h.CreateSchedule)
			r.With(RequireRole(RoleAdmin)).Put("/{id}", h.UpdateSchedule)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestLogger logs each request with its status and duration and puts a
// request-scoped logger into the context.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := logging.FromContext(r.Context(), base).With("request_id", middleware.GetReqID(r.Context()))
			ctx := logging.ContextWithLogger(r.Context(), log)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if status >= http.StatusInternalServerError {
				log.Error("request", attrs...)
			} else {
				log.Info("request", attrs...)
			}
		})
	}
}
