// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	// InvalidatePrefix evicts every key sharing prefix — used to drop all
	// cached views of a client after a ledger write.
	InvalidatePrefix(prefix string)
}

// CreditStore defines all data operations for the credit ledger.
// Implemented by the Supabase adapter (or any other persistence layer).
type CreditStore interface {
	// Balances
	GetCreditBalance(ctx context.Context, clientID string) (*domain.CreditBalance, error)
	// AdvanceUsedCredits applies delta to used_credits only if the row still
	// holds seenUsed — the optimistic-concurrency guard for the write path.
	AdvanceUsedCredits(ctx context.Context, balanceID string, seenUsed, delta int) error
	// AdvanceTotalCredits raises total_credits under the same guard.
	AdvanceTotalCredits(ctx context.Context, balanceID string, seenTotal, delta int) error

	// Transactions (append-only, newest-first)
	ListTransactions(ctx context.Context, clientID string, page, pageSize int) ([]domain.CreditTransaction, error)
	InsertTransaction(ctx context.Context, tx *domain.CreditTransaction) (*domain.CreditTransaction, error)

	// Task requests (newest-first)
	ListTaskRequests(ctx context.Context, clientID string) ([]domain.TaskRequest, error)
	GetTaskRequest(ctx context.Context, requestID string) (*domain.TaskRequest, error)
	InsertTaskRequest(ctx context.Context, req *domain.TaskRequest) (*domain.TaskRequest, error)
	UpdateTaskRequestStatus(ctx context.Context, requestID string, status domain.TaskRequestStatus, reason string) error

	// Limit policies
	GetClientLimit(ctx context.Context, clientID string) (*domain.ClientLimit, error)
	UpsertClientLimit(ctx context.Context, limit *domain.ClientLimit) (*domain.ClientLimit, error)
}

// ReportStore defines all data operations for scheduled reports.
type ReportStore interface {
	ListScheduledReports(ctx context.Context, clientID string) ([]domain.ScheduledReport, error)
	GetScheduledReport(ctx context.Context, reportID string) (*domain.ScheduledReport, error)
	InsertScheduledReport(ctx context.Context, report *domain.ScheduledReport) (*domain.ScheduledReport, error)
	UpdateScheduledReport(ctx context.Context, reportID string, fields map[string]any) error
	ListDueReports(ctx context.Context, dueBy time.Time) ([]domain.ScheduledReport, error)
}
