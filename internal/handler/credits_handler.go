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
// Credits & task requests
// ============================================================

// getCreditOverviewHandler serves the dashboard's credits widget. Storage
// failures degrade to the empty overview with HTTP 200 so one bad fetch
// does not blank the whole dashboard; the failure still lands in logs
// and metrics.
func getCreditOverviewHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientId}/credits")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		overview, err := creditsSvc.GetCreditOverview(ctx, clientID)
		if err != nil {
			logger.Error("credits widget degraded to empty state",
				zap.String("client_id", clientID),
				zap.Error(err),
			)
			writeJSON(w, http.StatusOK, &domain.CreditOverview{
				ClientID:     clientID,
				Transactions: []domain.CreditTransaction{},
				TaskRequests: []domain.TaskRequest{},
			})
			return
		}

		writeJSON(w, http.StatusOK, overview)
	}
}

func listTransactionsHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientId}/credits/transactions")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")
		page, pageSize := parsePagination(r)

		transactions, err := creditsSvc.ListTransactions(ctx, clientID, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if transactions == nil {
			transactions = []domain.CreditTransaction{}
		}

		writeJSON(w, http.StatusOK, transactions)
	}
}

func listTaskRequestsHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientId}/task-requests")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		requests, err := creditsSvc.ListTaskRequests(ctx, clientID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if requests == nil {
			requests = []domain.TaskRequest{}
		}

		writeJSON(w, http.StatusOK, requests)
	}
}

func submitTaskRequestHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/clients/{clientId}/task-requests")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		var sub domain.TaskRequestSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		created, err := creditsSvc.SubmitTaskRequest(ctx, clientID, &sub)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func approveTaskRequestHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/task-requests/{requestId}/approve")
		defer span.End()

		requestID := chi.URLParam(r, "requestId")

		approved, err := creditsSvc.ApproveTaskRequest(ctx, requestID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, approved)
	}
}

func rejectTaskRequestHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/task-requests/{requestId}/reject")
		defer span.End()

		requestID := chi.URLParam(r, "requestId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rejected, err := creditsSvc.RejectTaskRequest(ctx, requestID, body.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, rejected)
	}
}

func purchaseCreditsHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/clients/{clientId}/credits/purchase")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		var purchase domain.PurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&purchase); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tx, err := creditsSvc.PurchaseCredits(ctx, clientID, &purchase)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, tx)
	}
}

// ============================================================
// Client limits
// ============================================================

func getClientLimitHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientId}/limits")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		limit, err := creditsSvc.GetClientLimit(ctx, clientID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, limit)
	}
}

func upsertClientLimitHandler(creditsSvc *service.CreditsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/clients/{clientId}/limits")
		defer span.End()

		clientID := chi.URLParam(r, "clientId")

		var limit domain.ClientLimit
		if err := json.NewDecoder(r.Body).Decode(&limit); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		limit.ClientID = clientID

		saved, err := creditsSvc.UpsertClientLimit(ctx, &limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, saved)
	}
}
