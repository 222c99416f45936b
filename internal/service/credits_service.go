// Package service provides the business logic layer (use cases).
// CreditsService owns the credit ledger read model and the approval
// write path; ReportsService owns scheduled-report recurrence.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harborview/agency-dashboard-go/internal/domain"
	"github.com/harborview/agency-dashboard-go/internal/infra/observability"
	"github.com/harborview/agency-dashboard-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var creditsTracer = otel.Tracer("service/credits")

// maxBalanceRetries bounds the optimistic-concurrency retry loop on
// balance writes.
const maxBalanceRetries = 3

// CreditsService orchestrates credit ledger reads and writes via the store.
type CreditsService struct {
	store   port.CreditStore
	cache   port.Cache[*domain.CreditOverview]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCreditsService creates a new credits service.
func NewCreditsService(store port.CreditStore, cache port.Cache[*domain.CreditOverview], metrics *observability.Metrics, logger *zap.Logger) *CreditsService {
	return &CreditsService{store: store, cache: cache, metrics: metrics, logger: logger}
}

func overviewCacheKey(clientID string) string {
	return "client:" + clientID + ":overview"
}

// ============================================================
// Ledger reader
// ============================================================

// GetCreditOverview assembles the composite read model for one client:
// active balance, ledger (newest-first), task requests (newest-first) and
// the derived usage fields. A missing balance row yields the defined
// empty state (Balance == nil), not an error; storage failures propagate
// so the caller can distinguish "no data" from "could not fetch".
func (s *CreditsService) GetCreditOverview(ctx context.Context, clientID string) (*domain.CreditOverview, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.GetCreditOverview")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	if clientID == "" {
		return &domain.CreditOverview{
			Transactions: []domain.CreditTransaction{},
			TaskRequests: []domain.TaskRequest{},
		}, nil
	}

	if cached, ok := s.cache.Get(overviewCacheKey(clientID)); ok {
		s.metrics.IncrCacheHit("credits")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("credits")

	var (
		balance      *domain.CreditBalance
		limit        *domain.ClientLimit
		transactions []domain.CreditTransaction
		requests     []domain.TaskRequest
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b, err := s.store.GetCreditBalance(gctx, clientID)
		if err != nil {
			var notFound *domain.ErrNotFound
			if errors.As(err, &notFound) {
				return nil // defined empty state, not a failure
			}
			return err
		}
		balance = b
		return nil
	})
	g.Go(func() error {
		l, err := s.store.GetClientLimit(gctx, clientID)
		if err != nil {
			var notFound *domain.ErrNotFound
			if errors.As(err, &notFound) {
				return nil // no policy row: defaults apply
			}
			return err
		}
		limit = l
		return nil
	})
	g.Go(func() error {
		txs, err := s.store.ListTransactions(gctx, clientID, 1, 100)
		if err != nil {
			return err
		}
		transactions = txs
		return nil
	})
	g.Go(func() error {
		reqs, err := s.store.ListTaskRequests(gctx, clientID)
		if err != nil {
			return err
		}
		requests = reqs
		return nil
	})

	if err := g.Wait(); err != nil {
		s.metrics.IncrStoreError("supabase")
		s.logger.Error("credit overview fetch failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return nil, err
	}

	overview := &domain.CreditOverview{
		ClientID:     clientID,
		Balance:      balance,
		Transactions: transactions,
		TaskRequests: requests,
	}
	if balance != nil {
		overview.Remaining = domain.RemainingCredits(balance.TotalCredits, balance.UsedCredits)
		overview.UsagePercentage = domain.UsagePercentage(balance.TotalCredits, balance.UsedCredits)
		overview.Status = domain.EvaluateThresholds(balance.TotalCredits, balance.UsedCredits, limit)

		if sev := overview.Status.Severity(); sev != "ok" {
			s.metrics.IncrCreditAlert(sev)
		}
	}

	s.cache.Set(overviewCacheKey(clientID), overview)
	return overview, nil
}

// ListTransactions returns one page of the client's ledger, newest first.
func (s *CreditsService) ListTransactions(ctx context.Context, clientID string, page, pageSize int) ([]domain.CreditTransaction, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.ListTransactions")
	defer span.End()

	return s.store.ListTransactions(ctx, clientID, page, pageSize)
}

// ListTaskRequests returns the client's task requests, newest first.
func (s *CreditsService) ListTaskRequests(ctx context.Context, clientID string) ([]domain.TaskRequest, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.ListTaskRequests")
	defer span.End()

	return s.store.ListTaskRequests(ctx, clientID)
}

// ============================================================
// Task request submission & approval workflow
// ============================================================

// SubmitTaskRequest records a client's ask for work with its estimated
// credit cost. Nothing is deducted until the request is approved.
func (s *CreditsService) SubmitTaskRequest(ctx context.Context, clientID string, sub *domain.TaskRequestSubmission) (*domain.TaskRequest, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.SubmitTaskRequest")
	defer span.End()

	if clientID == "" {
		return nil, &domain.ErrValidation{Field: "client_id", Message: "required"}
	}
	if strings.TrimSpace(sub.Title) == "" {
		return nil, &domain.ErrValidation{Field: "title", Message: "required"}
	}
	if sub.EstimatedMinutes <= 0 {
		return nil, &domain.ErrValidation{Field: "estimated_minutes", Message: "must be positive"}
	}

	req := &domain.TaskRequest{
		ClientID:         clientID,
		Title:            sub.Title,
		Description:      sub.Description,
		EstimatedMinutes: sub.EstimatedMinutes,
		EstimatedCredits: domain.TaskCredits(sub.EstimatedMinutes),
		Status:           domain.RequestPending,
	}

	created, err := s.store.InsertTaskRequest(ctx, req)
	if err != nil {
		s.logger.Error("failed to insert task request", zap.String("client_id", clientID), zap.Error(err))
		return nil, err
	}

	s.cache.InvalidatePrefix("client:" + clientID + ":")
	s.logger.Info("task request submitted",
		zap.String("client_id", clientID),
		zap.String("request_id", created.ID),
		zap.Int("estimated_credits", created.EstimatedCredits),
	)
	return created, nil
}

// ApproveTaskRequest moves a pending request to approved and charges the
// client's balance: one task_deduction ledger entry plus an optimistic
// used_credits advance. The pending-pinned status flip makes concurrent
// approvals of the same request a conflict, not a double charge.
func (s *CreditsService) ApproveTaskRequest(ctx context.Context, requestID string) (*domain.TaskRequest, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.ApproveTaskRequest")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	req, err := s.store.GetTaskRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(domain.RequestApproved) {
		return nil, &domain.ErrInvalidTransition{From: req.Status, To: domain.RequestApproved}
	}

	balance, err := s.store.GetCreditBalance(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	// A block-at-limit policy turns the deduction into a hard stop.
	limit, err := s.store.GetClientLimit(ctx, req.ClientID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		limit = nil
	}
	if limit != nil && limit.BlockAtLimit {
		creditLimit := limit.MonthlyCredits
		if creditLimit <= 0 {
			creditLimit = balance.TotalCredits
		}
		if balance.UsedCredits+req.EstimatedCredits > creditLimit {
			return nil, &domain.ErrInsufficientCredits{
				Available: creditLimit - balance.UsedCredits,
				Required:  req.EstimatedCredits,
			}
		}
	}

	if err := s.store.UpdateTaskRequestStatus(ctx, requestID, domain.RequestApproved, ""); err != nil {
		return nil, err
	}

	tx := &domain.CreditTransaction{
		ClientID:       req.ClientID,
		CreditsAmount:  -req.EstimatedCredits,
		Type:           domain.TxTaskDeduction,
		Description:    fmt.Sprintf("Task approved: %s", req.Title),
		TaskID:         req.ID,
		IdempotencyKey: uuid.New().String(),
	}
	if _, err := s.store.InsertTransaction(ctx, tx); err != nil {
		s.logger.Error("approval: ledger entry failed after status flip",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.advanceUsed(ctx, req.ClientID, balance, req.EstimatedCredits); err != nil {
		// The entry is recorded; the balance is now behind the ledger.
		// Surface the error so operators can reconcile.
		s.logger.Error("approval: balance advance failed, ledger ahead of balance",
			zap.String("request_id", requestID),
			zap.String("client_id", req.ClientID),
			zap.Int("credits", req.EstimatedCredits),
			zap.Error(err),
		)
		return nil, err
	}

	s.cache.InvalidatePrefix("client:" + req.ClientID + ":")
	s.logger.Info("task request approved",
		zap.String("client_id", req.ClientID),
		zap.String("request_id", requestID),
		zap.Int("credits_deducted", req.EstimatedCredits),
	)

	approved := *req
	approved.Status = domain.RequestApproved
	return &approved, nil
}

// advanceUsed applies delta to used_credits, re-reading and retrying when
// another writer advanced the balance first.
func (s *CreditsService) advanceUsed(ctx context.Context, clientID string, seen *domain.CreditBalance, delta int) error {
	balance := seen
	for attempt := 0; attempt < maxBalanceRetries; attempt++ {
		err := s.store.AdvanceUsedCredits(ctx, balance.ID, balance.UsedCredits, delta)
		if err == nil {
			return nil
		}
		var conflict *domain.ErrConflict
		if !errors.As(err, &conflict) {
			return err
		}

		fresh, readErr := s.store.GetCreditBalance(ctx, clientID)
		if readErr != nil {
			return readErr
		}
		balance = fresh
	}
	return &domain.ErrConflict{Message: fmt.Sprintf("could not advance balance for client %s after %d attempts", clientID, maxBalanceRetries)}
}

// RejectTaskRequest moves a pending request to rejected with a reason.
func (s *CreditsService) RejectTaskRequest(ctx context.Context, requestID, reason string) (*domain.TaskRequest, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.RejectTaskRequest")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, &domain.ErrValidation{Field: "rejection_reason", Message: "required"}
	}

	req, err := s.store.GetTaskRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(domain.RequestRejected) {
		return nil, &domain.ErrInvalidTransition{From: req.Status, To: domain.RequestRejected}
	}

	if err := s.store.UpdateTaskRequestStatus(ctx, requestID, domain.RequestRejected, reason); err != nil {
		return nil, err
	}

	s.cache.InvalidatePrefix("client:" + req.ClientID + ":")
	s.logger.Info("task request rejected",
		zap.String("client_id", req.ClientID),
		zap.String("request_id", requestID),
	)

	rejected := *req
	rejected.Status = domain.RequestRejected
	rejected.RejectionReason = reason
	return &rejected, nil
}

// ============================================================
// Purchases & limit policies
// ============================================================

// PurchaseCredits records a top-up: a positive purchase ledger entry and
// an optimistic total_credits advance on the active period.
func (s *CreditsService) PurchaseCredits(ctx context.Context, clientID string, purchase *domain.PurchaseRequest) (*domain.CreditTransaction, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.PurchaseCredits")
	defer span.End()

	if purchase.Credits <= 0 {
		return nil, &domain.ErrValidation{Field: "credits", Message: "must be positive"}
	}

	balance, err := s.store.GetCreditBalance(ctx, clientID)
	if err != nil {
		return nil, err
	}

	description := purchase.Description
	if description == "" {
		cost := domain.CreditsToCost(float64(purchase.Credits))
		description = fmt.Sprintf("Purchased %d credits (%s)", purchase.Credits, cost.StringFixed(2))
	}

	tx := &domain.CreditTransaction{
		ClientID:       clientID,
		CreditsAmount:  purchase.Credits,
		Type:           domain.TxPurchase,
		Description:    description,
		IdempotencyKey: uuid.New().String(),
	}
	created, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := s.advanceTotal(ctx, clientID, balance, purchase.Credits); err != nil {
		s.logger.Error("purchase: balance advance failed, ledger ahead of balance",
			zap.String("client_id", clientID),
			zap.Int("credits", purchase.Credits),
			zap.Error(err),
		)
		return nil, err
	}

	s.cache.InvalidatePrefix("client:" + clientID + ":")
	s.logger.Info("credits purchased",
		zap.String("client_id", clientID),
		zap.Int("credits", purchase.Credits),
	)
	return created, nil
}

func (s *CreditsService) advanceTotal(ctx context.Context, clientID string, seen *domain.CreditBalance, delta int) error {
	balance := seen
	for attempt := 0; attempt < maxBalanceRetries; attempt++ {
		err := s.store.AdvanceTotalCredits(ctx, balance.ID, balance.TotalCredits, delta)
		if err == nil {
			return nil
		}
		var conflict *domain.ErrConflict
		if !errors.As(err, &conflict) {
			return err
		}

		fresh, readErr := s.store.GetCreditBalance(ctx, clientID)
		if readErr != nil {
			return readErr
		}
		balance = fresh
	}
	return &domain.ErrConflict{Message: fmt.Sprintf("could not advance balance for client %s after %d attempts", clientID, maxBalanceRetries)}
}

// GetClientLimit returns the client's limit policy, or defaults when no
// policy row exists.
func (s *CreditsService) GetClientLimit(ctx context.Context, clientID string) (*domain.ClientLimit, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.GetClientLimit")
	defer span.End()

	limit, err := s.store.GetClientLimit(ctx, clientID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return &domain.ClientLimit{
				ClientID:          clientID,
				OverageRate:       1,
				AlertAtPercentage: domain.DefaultAlertPercentage,
			}, nil
		}
		return nil, err
	}
	return limit, nil
}

// UpsertClientLimit validates and persists a client's limit policy.
func (s *CreditsService) UpsertClientLimit(ctx context.Context, limit *domain.ClientLimit) (*domain.ClientLimit, error) {
	ctx, span := creditsTracer.Start(ctx, "CreditsService.UpsertClientLimit")
	defer span.End()

	if limit.ClientID == "" {
		return nil, &domain.ErrValidation{Field: "client_id", Message: "required"}
	}
	if limit.AlertAtPercentage < 0 || limit.AlertAtPercentage > 100 {
		return nil, &domain.ErrValidation{Field: "alert_at_percentage", Message: "must be between 0 and 100"}
	}
	if limit.OverageRate < 1 {
		return nil, &domain.ErrValidation{Field: "overage_rate", Message: "must be at least 1"}
	}
	if limit.MonthlyCredits < 0 {
		return nil, &domain.ErrValidation{Field: "monthly_credits_limit", Message: "must not be negative"}
	}

	saved, err := s.store.UpsertClientLimit(ctx, limit)
	if err != nil {
		return nil, err
	}

	s.cache.InvalidatePrefix("client:" + limit.ClientID + ":")
	s.logger.Info("client limit updated",
		zap.String("client_id", limit.ClientID),
		zap.Int("monthly_credits_limit", limit.MonthlyCredits),
		zap.Bool("block_at_limit", limit.BlockAtLimit),
	)
	return saved, nil
}
