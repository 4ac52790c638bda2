/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Access log: httplog over slog JSON, ECS field names
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/entitlements/*   Schedule lookups
  /api/employees/*      Balances, history, grants, request submission
  /api/requests/*       Approve / reject
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// RouterConfig holds the transport-level knobs.
type RouterConfig struct {
	AllowedOrigins []string
	// AccessLog receives one JSON line per request. nil = stdout.
	AccessLog io.Writer
	Version   string
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	out := cfg.AccessLog
	if out == nil {
		out = os.Stdout
	}
	logFormat := httplog.SchemaECS.Concise(false)
	accessLogger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "yukyu-ledger"),
		slog.String("version", cfg.Version),
	)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(accessLogger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/healthz"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/entitlements/next", h.NextEntitlement)

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/expiring", h.GetExpiring)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/reconciliation", h.GetReconciliation)
			r.Get("/{id}/grants", h.ListGrants)
			r.Post("/{id}/grants", h.CreateGrants)
			r.Post("/{id}/requests", h.SubmitRequest)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
