package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"
)

// ============================================================
// Credit ledger store — balances, transactions, task requests,
// limit policies (implements port.CreditStore)
// ============================================================

// GetCreditBalance fetches the client's active billing-period balance.
// The current period is the newest row whose window contains today.
func (c *Client) GetCreditBalance(ctx context.Context, clientID string) (*domain.CreditBalance, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCreditBalance")
	defer span.End()

	today := time.Now().Format("2006-01-02")
	path := fmt.Sprintf("credit_balances?client_id=eq.%s&period_start=lte.%s&period_end=gte.%s&order=period_start.desc&limit=1",
		url.QueryEscape(clientID), today, today)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/credit_balances", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "credit_balance", ID: clientID}
	}

	var rows []domain.CreditBalance
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode credit_balance: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "credit_balance", ID: clientID}
	}
	return &rows[0], nil
}

// AdvanceUsedCredits applies delta to used_credits, guarded by the value
// the caller last read. Zero matched rows means another writer advanced
// the balance first; the caller must re-read and retry.
func (c *Client) AdvanceUsedCredits(ctx context.Context, balanceID string, seenUsed, delta int) error {
	ctx, span := tracer.Start(ctx, "Supabase.AdvanceUsedCredits")
	defer span.End()

	path := fmt.Sprintf("credit_balances?id=eq.%s&used_credits=eq.%d", url.QueryEscape(balanceID), seenUsed)
	n, err := c.doPatch(ctx, path, map[string]any{
		"used_credits": seenUsed + delta,
		"updated_at":   time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/credit_balances", Err: err}
	}
	if n == 0 {
		return &domain.ErrConflict{Message: fmt.Sprintf("credit balance %s changed concurrently", balanceID)}
	}
	return nil
}

// AdvanceTotalCredits raises total_credits under the same optimistic guard.
func (c *Client) AdvanceTotalCredits(ctx context.Context, balanceID string, seenTotal, delta int) error {
	ctx, span := tracer.Start(ctx, "Supabase.AdvanceTotalCredits")
	defer span.End()

	path := fmt.Sprintf("credit_balances?id=eq.%s&total_credits=eq.%d", url.QueryEscape(balanceID), seenTotal)
	n, err := c.doPatch(ctx, path, map[string]any{
		"total_credits": seenTotal + delta,
		"updated_at":    time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/credit_balances", Err: err}
	}
	if n == 0 {
		return &domain.ErrConflict{Message: fmt.Sprintf("credit balance %s changed concurrently", balanceID)}
	}
	return nil
}

// ListTransactions returns the client's ledger entries, newest first.
func (c *Client) ListTransactions(ctx context.Context, clientID string, page, pageSize int) ([]domain.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactions")
	defer span.End()

	offset := (page - 1) * pageSize
	path := fmt.Sprintf("credit_transactions?client_id=eq.%s&order=created_at.desc&limit=%d&offset=%d",
		url.QueryEscape(clientID), pageSize, offset)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/credit_transactions", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return []domain.CreditTransaction{}, nil
	}

	var rows []domain.CreditTransaction
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode credit_transactions: %w", err)
	}
	return rows, nil
}

// InsertTransaction appends one immutable ledger entry.
func (c *Client) InsertTransaction(ctx context.Context, tx *domain.CreditTransaction) (*domain.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertTransaction")
	defer span.End()

	row := map[string]any{
		"client_id":        tx.ClientID,
		"credits_amount":   tx.CreditsAmount,
		"transaction_type": string(tx.Type),
		"description":      tx.Description,
		"idempotency_key":  tx.IdempotencyKey,
	}
	if tx.TaskID != "" {
		row["task_id"] = tx.TaskID
	}

	body, err := c.doPost(ctx, "credit_transactions", row)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/credit_transactions", Err: err}
	}

	var results []domain.CreditTransaction
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode credit_transaction: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from credit_transactions insert")
	}
	return &results[0], nil
}

// ListTaskRequests returns the client's task requests, newest first.
func (c *Client) ListTaskRequests(ctx context.Context, clientID string) ([]domain.TaskRequest, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTaskRequests")
	defer span.End()

	path := fmt.Sprintf("task_requests?client_id=eq.%s&order=created_at.desc", url.QueryEscape(clientID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/task_requests", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return []domain.TaskRequest{}, nil
	}

	var rows []domain.TaskRequest
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode task_requests: %w", err)
	}
	return rows, nil
}

func (c *Client) GetTaskRequest(ctx context.Context, requestID string) (*domain.TaskRequest, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTaskRequest")
	defer span.End()

	path := fmt.Sprintf("task_requests?id=eq.%s&limit=1", url.QueryEscape(requestID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/task_requests", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "task_request", ID: requestID}
	}

	var rows []domain.TaskRequest
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode task_request: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "task_request", ID: requestID}
	}
	return &rows[0], nil
}

func (c *Client) InsertTaskRequest(ctx context.Context, req *domain.TaskRequest) (*domain.TaskRequest, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertTaskRequest")
	defer span.End()

	row := map[string]any{
		"client_id":         req.ClientID,
		"title":             req.Title,
		"description":       req.Description,
		"estimated_minutes": req.EstimatedMinutes,
		"estimated_credits": req.EstimatedCredits,
		"status":            string(domain.RequestPending),
	}

	body, err := c.doPost(ctx, "task_requests", row)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/task_requests", Err: err}
	}

	var results []domain.TaskRequest
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode task_request: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from task_requests insert")
	}
	return &results[0], nil
}

// UpdateTaskRequestStatus advances a request's status. The filter pins the
// expected current status to pending so a concurrent approval/rejection
// cannot be overwritten (forward-only transitions).
func (c *Client) UpdateTaskRequestStatus(ctx context.Context, requestID string, status domain.TaskRequestStatus, reason string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateTaskRequestStatus")
	defer span.End()

	data := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().Format(time.RFC3339),
	}
	if reason != "" {
		data["rejection_reason"] = reason
	}

	path := fmt.Sprintf("task_requests?id=eq.%s&status=eq.%s", url.QueryEscape(requestID), string(domain.RequestPending))
	n, err := c.doPatch(ctx, path, data)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/task_requests", Err: err}
	}
	if n == 0 {
		return &domain.ErrConflict{Message: fmt.Sprintf("task request %s is no longer pending", requestID)}
	}
	return nil
}

// GetClientLimit fetches the client's limit policy, if any.
func (c *Client) GetClientLimit(ctx context.Context, clientID string) (*domain.ClientLimit, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetClientLimit")
	defer span.End()

	path := fmt.Sprintf("client_limits?client_id=eq.%s&limit=1", url.QueryEscape(clientID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/client_limits", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "client_limit", ID: clientID}
	}

	var rows []domain.ClientLimit
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode client_limit: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "client_limit", ID: clientID}
	}
	return &rows[0], nil
}

// UpsertClientLimit creates or replaces the client's limit policy.
func (c *Client) UpsertClientLimit(ctx context.Context, limit *domain.ClientLimit) (*domain.ClientLimit, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertClientLimit")
	defer span.End()

	row := map[string]any{
		"client_id":             limit.ClientID,
		"monthly_credits_limit": limit.MonthlyCredits,
		"monthly_hours_limit":   limit.MonthlyHours,
		"overage_rate":          limit.OverageRate,
		"alert_at_percentage":   limit.AlertAtPercentage,
		"block_at_limit":        limit.BlockAtLimit,
		"updated_at":            time.Now().Format(time.RFC3339),
	}

	body, err := c.doUpsert(ctx, "client_limits", row)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/client_limits", Err: err}
	}

	var results []domain.ClientLimit
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode client_limit: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from client_limits upsert")
	}
	return &results[0], nil
}

// Ping is a cheap reachability probe for /healthz.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "credit_balances?limit=1")
	return err
}
