package domain

import "time"

// ============================================================
// Credit Ledger (balances, transactions, task requests, limits)
// ============================================================

// TransactionType is the business reason for a ledger entry.
// Modeled as a closed set so invalid values are caught at the boundary.
type TransactionType string

const (
	TxTaskDeduction TransactionType = "task_deduction"
	TxPurchase      TransactionType = "purchase"
	TxRefund        TransactionType = "refund"
	TxBonus         TransactionType = "bonus"
	TxAdjustment    TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxTaskDeduction, TxPurchase, TxRefund, TxBonus, TxAdjustment:
		return true
	}
	return false
}

// TaskRequestStatus is the lifecycle state of a client task request.
// Transitions are forward-only: pending → {approved, rejected},
// approved → converted.
type TaskRequestStatus string

const (
	RequestPending   TaskRequestStatus = "pending"
	RequestApproved  TaskRequestStatus = "approved"
	RequestRejected  TaskRequestStatus = "rejected"
	RequestConverted TaskRequestStatus = "converted"
)

// CanTransitionTo reports whether the status change is a legal forward move.
func (s TaskRequestStatus) CanTransitionTo(next TaskRequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestApproved || next == RequestRejected
	case RequestApproved:
		return next == RequestConverted
	}
	return false
}

// CreditBalance is a client's allotment and consumption for one billing
// period. used_credits only grows within a period; rollover creates a new
// row rather than mutating this one.
type CreditBalance struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	TotalCredits int       `json:"total_credits"`
	UsedCredits  int       `json:"used_credits"`
	PeriodStart  string    `json:"period_start"` // YYYY-MM-DD
	PeriodEnd    string    `json:"period_end"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreditTransaction is one immutable, append-only ledger entry.
// CreditsAmount is signed: positive adds credits, negative consumes them.
type CreditTransaction struct {
	ID             string          `json:"id"`
	ClientID       string          `json:"client_id"`
	CreditsAmount  int             `json:"credits_amount"`
	Type           TransactionType `json:"transaction_type"`
	Description    string          `json:"description,omitempty"`
	TaskID         string          `json:"task_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TaskRequest is a client-submitted ask for work, pending agency approval
// before it becomes a billable task.
type TaskRequest struct {
	ID               string            `json:"id"`
	ClientID         string            `json:"client_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	EstimatedMinutes int               `json:"estimated_minutes"`
	EstimatedCredits int               `json:"estimated_credits"`
	Status           TaskRequestStatus `json:"status"`
	RejectionReason  string            `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// TaskRequestSubmission is the payload for POST /v1/clients/{id}/task-requests.
type TaskRequestSubmission struct {
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// ClientLimit is per-client billing policy, edited by administrators and
// read-only from the calculator's perspective.
type ClientLimit struct {
	ClientID           string  `json:"client_id"`
	MonthlyCredits     int     `json:"monthly_credits_limit"`
	MonthlyHours       float64 `json:"monthly_hours_limit"`
	OverageRate        float64 `json:"overage_rate"`        // ≥ 1
	AlertAtPercentage  float64 `json:"alert_at_percentage"` // [0,100]
	BlockAtLimit       bool    `json:"block_at_limit"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CreditStatus is the severity evaluation of a client's usage against
// its limit policy. Precedence for display: AtLimit > Overage > Low.
type CreditStatus struct {
	IsLow     bool `json:"is_low"`
	IsOverage bool `json:"is_overage"`
	IsAtLimit bool `json:"is_at_limit"`
}

// CreditOverview is the composite read model the dashboard renders:
// the fetched rows plus derived fields. Balance == nil is the defined
// "no active credits" empty state, distinct from zero credits.
type CreditOverview struct {
	ClientID        string              `json:"client_id"`
	Balance         *CreditBalance      `json:"credits"`
	Transactions    []CreditTransaction `json:"transactions"`
	TaskRequests    []TaskRequest       `json:"task_requests"`
	Remaining       int                 `json:"remaining_credits"`
	UsagePercentage float64             `json:"usage_percentage"`
	Status          CreditStatus        `json:"status"`
}

// PurchaseRequest is the payload for a credit purchase/top-up.
type PurchaseRequest struct {
	Credits     int    `json:"credits"`
	Description string `json:"description,omitempty"`
}
