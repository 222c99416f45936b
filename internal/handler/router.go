package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"
	"github.com/harborview/agency-dashboard-go/internal/infra/observability"
	"github.com/harborview/agency-dashboard-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the backing store is reachable. Satisfied by the
// Supabase client; /healthz uses it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuthConfig carries the router's auth material.
type AuthConfig struct {
	JWTSecret         string
	DispatchTokenHash string
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract the dashboard frontend consumes.
func NewRouter(creditsSvc *service.CreditsService, reportsSvc *service.ReportsService, store Pinger, metrics *observability.Metrics, auth AuthConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuthMiddleware(auth.JWTSecret, logger))

		// =============================================
		// Credits widget & ledger
		// =============================================
		r.Get("/clients/{clientId}/credits", getCreditOverviewHandler(creditsSvc, logger))
		r.Get("/clients/{clientId}/credits/transactions", listTransactionsHandler(creditsSvc, logger))
		r.Post("/clients/{clientId}/credits/purchase", purchaseCreditsHandler(creditsSvc, logger))

		// =============================================
		// Task requests & approval workflow
		// =============================================
		r.Get("/clients/{clientId}/task-requests", listTaskRequestsHandler(creditsSvc, logger))
		r.Post("/clients/{clientId}/task-requests", submitTaskRequestHandler(creditsSvc, logger))
		r.Post("/task-requests/{requestId}/approve", approveTaskRequestHandler(creditsSvc, logger))
		r.Post("/task-requests/{requestId}/reject", rejectTaskRequestHandler(creditsSvc, logger))

		// =============================================
		// Client limit policies
		// =============================================
		r.Get("/clients/{clientId}/limits", getClientLimitHandler(creditsSvc, logger))
		r.Put("/clients/{clientId}/limits", upsertClientLimitHandler(creditsSvc, logger))

		// =============================================
		// Scheduled reports
		// =============================================
		r.Get("/clients/{clientId}/reports", listReportsHandler(reportsSvc, logger))
		r.Post("/clients/{clientId}/reports", createReportHandler(reportsSvc, logger))
		r.Get("/reports/{reportId}", getReportHandler(reportsSvc, logger))
		r.Put("/reports/{reportId}", updateReportHandler(reportsSvc, logger))
		r.Post("/reports/{reportId}/deactivate", deactivateReportHandler(reportsSvc, logger))

		// =============================================
		// Usage metrics
		// =============================================
		r.Get("/metrics/usage", usageMetricsHandler(metrics, logger))
	})

	// Dispatcher callbacks use a service token instead of a user JWT.
	r.Route("/v1/dispatch", func(r chi.Router) {
		r.Use(DispatchAuthMiddleware(auth.DispatchTokenHash, logger))

		r.Get("/reports/due", listDueReportsHandler(reportsSvc, logger))
		r.Post("/reports/{reportId}/sent", markReportSentHandler(reportsSvc, logger))
	})

	return r
}

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "agency-dashboard-api", Status: "healthy", LatencyMs: 0, UptimePercent: 99.99, LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("healthz: store unreachable", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "supabase", Status: status, LatencyMs: latency,
				UptimePercent: 99.9, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func usageMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := metrics.GetUsageSnapshot()
		writeJSON(w, http.StatusOK, snapshot)
	}
}
