// Package web provides the HTTP surface of the gateway: the metered
// proxy and the credit plan administration API.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/credix/creditgate/adapters/metrics"
	"github.com/credix/creditgate/app"
	"github.com/credix/creditgate/ports"
)

// Handler provides all HTTP endpoints.
type Handler struct {
	admission  *app.AdmissionService
	settlement *app.SettlementService
	plans      *app.PlanService
	upstream   ports.Upstream
	logger     zerolog.Logger
	metrics    *metrics.Collector

	jwtSecret     string
	adminKeyHash  string
	serviceHeader string

	metricsEnabled bool
	metricsPath    string

	// onSettled fires after each async settlement completes. Tests use
	// it to wait for the fire-and-forget goroutine.
	onSettled func()
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Admission  *app.AdmissionService
	Settlement *app.SettlementService
	Plans      *app.PlanService
	Upstream   ports.Upstream
	Logger     zerolog.Logger
	Metrics    *metrics.Collector

	JWTSecret     string
	AdminKeyHash  string
	ServiceHeader string

	MetricsEnabled bool
	MetricsPath    string
}

// NewHandler creates a new web handler.
func NewHandler(deps Deps) *Handler {
	serviceHeader := deps.ServiceHeader
	if serviceHeader == "" {
		serviceHeader = "X-Service-Id"
	}
	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Handler{
		admission:      deps.Admission,
		settlement:     deps.Settlement,
		plans:          deps.Plans,
		upstream:       deps.Upstream,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		jwtSecret:      deps.JWTSecret,
		adminKeyHash:   deps.AdminKeyHash,
		serviceHeader:  serviceHeader,
		metricsEnabled: deps.MetricsEnabled,
		metricsPath:    metricsPath,
	}
}

// Router builds the chi router: admin API, health, metrics, and the
// metered proxy as the catch-all.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	if h.metricsEnabled {
		r.Handle(h.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1/credits", func(r chi.Router) {
		r.With(h.requireRechargeToken).Post("/", h.CreatePlan)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdminKey)
			r.Get("/", h.ListPlans)
			r.Get("/usage", h.Usage)
			r.Get("/{creditId}", h.GetPlan)
			r.Post("/{creditId}/activate", h.ActivatePlan)
		})
	})

	// Everything else is metered and proxied to the SSI backend.
	r.NotFound(h.Proxy)
	r.MethodNotAllowed(h.Proxy)

	return r
}

// Health reports gateway and upstream health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	upstream := "ok"
	code := http.StatusOK
	if err := h.upstream.HealthCheck(ctx); err != nil {
		upstream = "unreachable"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":   status,
		"upstream": upstream,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Server wraps the router in an http.Server with sane timeouts.
func (h *Handler) Server(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}
