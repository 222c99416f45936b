package handler

import (
	"encoding/json"
	"net/http"

	"github.com/harborview/agency-dashboard-go/internal/domain"
	"github.com/harborview/agency-dashboard-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Scheduled reports
// ============================================================

func listReportsHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientId}/reports")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		reports, err := reportsSvc.ListReports(ctx, clientID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if reports == nil {
			reports = []domain.ScheduledReport{}
		}

		writeJSON(w, http.StatusOK, reports)
	}
}

func createReportHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/clients/{clientId}/reports")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		var req domain.ScheduledReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		created, err := reportsSvc.CreateReport(ctx, clientID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func getReportHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reports/{reportId}")
		defer span.End()

		report, err := reportsSvc.GetReport(ctx, chi.URLParam(r, "reportId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

func updateReportHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/reports/{reportId}")
		defer span.End()

		var req domain.ScheduledReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		updated, err := reportsSvc.UpdateReport(ctx, chi.URLParam(r, "reportId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, updated)
	}
}

func deactivateReportHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reports/{reportId}/deactivate")
		defer span.End()

		if err := reportsSvc.DeactivateReport(ctx, chi.URLParam(r, "reportId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// listDueReportsHandler and markReportSentHandler are the dispatcher
// callbacks, guarded by DispatchAuthMiddleware.

func listDueReportsHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reports/due")
		defer span.End()

		due, err := reportsSvc.ListDueReports(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if due == nil {
			due = []domain.ScheduledReport{}
		}

		writeJSON(w, http.StatusOK, due)
	}
}

func markReportSentHandler(reportsSvc *service.ReportsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reports/{reportId}/sent")
		defer span.End()

		updated, err := reportsSvc.MarkReportSent(ctx, chi.URLParam(r, "reportId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, updated)
	}
}
