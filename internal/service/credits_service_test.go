package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"
	"github.com/harborview/agency-dashboard-go/internal/infra/cache"
	"github.com/harborview/agency-dashboard-go/internal/infra/observability"
	"github.com/harborview/agency-dashboard-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockCreditStore struct {
	balance      *domain.CreditBalance
	balanceErr   error
	limit        *domain.ClientLimit
	limitErr     error
	transactions []domain.CreditTransaction
	listTxErr    error
	requests     []domain.TaskRequest
	request      *domain.TaskRequest
	requestErr   error

	insertedTx      []*domain.CreditTransaction
	insertTxErr     error
	insertedReq     *domain.TaskRequest
	statusUpdates   []domain.TaskRequestStatus
	statusErr       error
	usedAdvances    []int
	usedConflicts   int // fail this many advance attempts with ErrConflict
	totalAdvances   []int
	upsertedLimit   *domain.ClientLimit
}

func (m *mockCreditStore) GetCreditBalance(_ context.Context, _ string) (*domain.CreditBalance, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockCreditStore) AdvanceUsedCredits(_ context.Context, _ string, _, delta int) error {
	if m.usedConflicts > 0 {
		m.usedConflicts--
		return &domain.ErrConflict{Message: "stale balance"}
	}
	m.usedAdvances = append(m.usedAdvances, delta)
	return nil
}

func (m *mockCreditStore) AdvanceTotalCredits(_ context.Context, _ string, _, delta int) error {
	m.totalAdvances = append(m.totalAdvances, delta)
	return nil
}

func (m *mockCreditStore) ListTransactions(_ context.Context, _ string, _, _ int) ([]domain.CreditTransaction, error) {
	if m.listTxErr != nil {
		return nil, m.listTxErr
	}
	return m.transactions, nil
}

func (m *mockCreditStore) InsertTransaction(_ context.Context, tx *domain.CreditTransaction) (*domain.CreditTransaction, error) {
	if m.insertTxErr != nil {
		return nil, m.insertTxErr
	}
	m.insertedTx = append(m.insertedTx, tx)
	return tx, nil
}

func (m *mockCreditStore) ListTaskRequests(_ context.Context, _ string) ([]domain.TaskRequest, error) {
	return m.requests, nil
}

func (m *mockCreditStore) GetTaskRequest(_ context.Context, _ string) (*domain.TaskRequest, error) {
	if m.requestErr != nil {
		return nil, m.requestErr
	}
	return m.request, nil
}

func (m *mockCreditStore) InsertTaskRequest(_ context.Context, req *domain.TaskRequest) (*domain.TaskRequest, error) {
	created := *req
	created.ID = "req-new"
	m.insertedReq = &created
	return &created, nil
}

func (m *mockCreditStore) UpdateTaskRequestStatus(_ context.Context, _ string, status domain.TaskRequestStatus, _ string) error {
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

func (m *mockCreditStore) GetClientLimit(_ context.Context, _ string) (*domain.ClientLimit, error) {
	if m.limitErr != nil {
		return nil, m.limitErr
	}
	if m.limit == nil {
		return nil, &domain.ErrNotFound{Resource: "client_limit", ID: "c1"}
	}
	return m.limit, nil
}

func (m *mockCreditStore) UpsertClientLimit(_ context.Context, limit *domain.ClientLimit) (*domain.ClientLimit, error) {
	m.upsertedLimit = limit
	return limit, nil
}

func newCreditsService(store *mockCreditStore) *service.CreditsService {
	return service.NewCreditsService(
		store,
		cache.New[*domain.CreditOverview](5*time.Minute),
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func activeBalance(total, used int) *domain.CreditBalance {
	now := time.Now()
	return &domain.CreditBalance{
		ID:           "bal-1",
		ClientID:     "c1",
		TotalCredits: total,
		UsedCredits:  used,
		PeriodStart:  now.AddDate(0, 0, -10).Format("2006-01-02"),
		PeriodEnd:    now.AddDate(0, 0, 20).Format("2006-01-02"),
	}
}

// --- Overview ---

func TestGetCreditOverview_Success(t *testing.T) {
	store := &mockCreditStore{
		balance: activeBalance(100, 85),
		transactions: []domain.CreditTransaction{
			{ID: "tx-1", CreditsAmount: -5, Type: domain.TxTaskDeduction},
		},
		requests: []domain.TaskRequest{
			{ID: "req-1", Status: domain.RequestPending},
		},
	}
	svc := newCreditsService(store)

	overview, err := svc.GetCreditOverview(context.Background(), "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if overview.Balance == nil {
		t.Fatal("expected balance to be present")
	}
	if _, err := time.Parse("2006-01-02", overview.Balance.PeriodStart); err != nil {
		t.Errorf("expected a date-only period_start, got %q", overview.Balance.PeriodStart)
	}
	if overview.Remaining != 15 {
		t.Errorf("expected remaining 15, got %d", overview.Remaining)
	}
	if overview.UsagePercentage != 85 {
		t.Errorf("expected 85%% usage, got %v", overview.UsagePercentage)
	}
	if !overview.Status.IsLow {
		t.Error("expected low-credit flag at 85% with default threshold")
	}
	if overview.Status.IsOverage {
		t.Error("did not expect overage below the limit")
	}
	if len(overview.Transactions) != 1 || len(overview.TaskRequests) != 1 {
		t.Errorf("expected ledger and requests to be attached, got %d/%d",
			len(overview.Transactions), len(overview.TaskRequests))
	}
}

func TestGetCreditOverview_NoBalanceIsEmptyState(t *testing.T) {
	store := &mockCreditStore{
		balanceErr:   &domain.ErrNotFound{Resource: "credit_balance", ID: "c1"},
		transactions: []domain.CreditTransaction{},
		requests:     []domain.TaskRequest{},
	}
	svc := newCreditsService(store)

	overview, err := svc.GetCreditOverview(context.Background(), "c1")
	if err != nil {
		t.Fatalf("a missing balance must not be an error, got %v", err)
	}
	if overview.Balance != nil {
		t.Error("expected nil balance in empty state")
	}
	if overview.Remaining != 0 || overview.UsagePercentage != 0 {
		t.Errorf("expected zeroed derived fields, got remaining=%d pct=%v",
			overview.Remaining, overview.UsagePercentage)
	}
}

func TestGetCreditOverview_StoreFailurePropagates(t *testing.T) {
	store := &mockCreditStore{
		balance:   activeBalance(100, 10),
		listTxErr: errors.New("connection refused"),
	}
	svc := newCreditsService(store)

	if _, err := svc.GetCreditOverview(context.Background(), "c1"); err == nil {
		t.Fatal("expected a store failure to propagate, got nil")
	}
}

func TestGetCreditOverview_CachesResult(t *testing.T) {
	store := &mockCreditStore{balance: activeBalance(100, 10)}
	svc := newCreditsService(store)

	first, err := svc.GetCreditOverview(context.Background(), "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// A failing store on the second call proves the cache served it.
	store.balanceErr = errors.New("down")
	store.listTxErr = errors.New("down")

	second, err := svc.GetCreditOverview(context.Background(), "c1")
	if err != nil {
		t.Fatalf("expected cached overview, got %v", err)
	}
	if second != first {
		t.Error("expected the cached overview instance")
	}
}

func TestGetCreditOverview_UsesLimitThresholds(t *testing.T) {
	store := &mockCreditStore{
		balance: activeBalance(100, 55),
		limit:   &domain.ClientLimit{ClientID: "c1", MonthlyCredits: 100, AlertAtPercentage: 50},
	}
	svc := newCreditsService(store)

	overview, err := svc.GetCreditOverview(context.Background(), "c1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !overview.Status.IsLow {
		t.Error("expected low flag with alert threshold lowered to 50%")
	}
}

// --- Submission ---

func TestSubmitTaskRequest_EstimatesCredits(t *testing.T) {
	store := &mockCreditStore{}
	svc := newCreditsService(store)

	created, err := svc.SubmitTaskRequest(context.Background(), "c1", &domain.TaskRequestSubmission{
		Title:            "Landing page refresh",
		EstimatedMinutes: 90,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if created.EstimatedCredits != 2 {
		t.Errorf("90 minutes should round up to 2 credits, got %d", created.EstimatedCredits)
	}
	if created.Status != domain.RequestPending {
		t.Errorf("new requests must be pending, got %s", created.Status)
	}
}

func TestSubmitTaskRequest_Validation(t *testing.T) {
	svc := newCreditsService(&mockCreditStore{})

	cases := []struct {
		name string
		sub  domain.TaskRequestSubmission
	}{
		{"empty title", domain.TaskRequestSubmission{Title: "  ", EstimatedMinutes: 60}},
		{"zero minutes", domain.TaskRequestSubmission{Title: "ok", EstimatedMinutes: 0}},
		{"negative minutes", domain.TaskRequestSubmission{Title: "ok", EstimatedMinutes: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitTaskRequest(context.Background(), "c1", &tc.sub)
			var verr *domain.ErrValidation
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

// --- Approval ---

func pendingRequest(credits int) *domain.TaskRequest {
	return &domain.TaskRequest{
		ID:               "req-1",
		ClientID:         "c1",
		Title:            "SEO audit",
		EstimatedMinutes: credits * 60,
		EstimatedCredits: credits,
		Status:           domain.RequestPending,
	}
}

func TestApproveTaskRequest_DeductsCredits(t *testing.T) {
	store := &mockCreditStore{
		balance: activeBalance(100, 40),
		request: pendingRequest(3),
	}
	svc := newCreditsService(store)

	approved, err := svc.ApproveTaskRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if approved.Status != domain.RequestApproved {
		t.Errorf("expected approved status, got %s", approved.Status)
	}
	if len(store.statusUpdates) != 1 || store.statusUpdates[0] != domain.RequestApproved {
		t.Errorf("expected one status flip to approved, got %v", store.statusUpdates)
	}
	if len(store.insertedTx) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(store.insertedTx))
	}
	tx := store.insertedTx[0]
	if tx.CreditsAmount != -3 {
		t.Errorf("expected -3 credits in the ledger, got %d", tx.CreditsAmount)
	}
	if tx.Type != domain.TxTaskDeduction {
		t.Errorf("expected task_deduction, got %s", tx.Type)
	}
	if tx.IdempotencyKey == "" {
		t.Error("expected an idempotency key on the deduction")
	}
	if len(store.usedAdvances) != 1 || store.usedAdvances[0] != 3 {
		t.Errorf("expected used_credits advanced by 3, got %v", store.usedAdvances)
	}
}

func TestApproveTaskRequest_NotPending(t *testing.T) {
	req := pendingRequest(2)
	req.Status = domain.RequestApproved
	store := &mockCreditStore{balance: activeBalance(100, 0), request: req}
	svc := newCreditsService(store)

	_, err := svc.ApproveTaskRequest(context.Background(), "req-1")
	var transition *domain.ErrInvalidTransition
	if !errors.As(err, &transition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(store.insertedTx) != 0 {
		t.Error("must not write a ledger entry for a non-pending request")
	}
}

func TestApproveTaskRequest_BlockedAtLimit(t *testing.T) {
	store := &mockCreditStore{
		balance: activeBalance(100, 99),
		request: pendingRequest(2),
		limit:   &domain.ClientLimit{ClientID: "c1", MonthlyCredits: 100, BlockAtLimit: true},
	}
	svc := newCreditsService(store)

	_, err := svc.ApproveTaskRequest(context.Background(), "req-1")
	var insufficient *domain.ErrInsufficientCredits
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if insufficient.Available != 1 || insufficient.Required != 2 {
		t.Errorf("expected available=1 required=2, got %+v", insufficient)
	}
	if len(store.statusUpdates) != 0 {
		t.Error("must not flip status when blocked at limit")
	}
}

func TestApproveTaskRequest_NoBlockWithoutPolicy(t *testing.T) {
	// Overage is allowed when no block_at_limit policy exists.
	store := &mockCreditStore{
		balance: activeBalance(100, 99),
		request: pendingRequest(5),
	}
	svc := newCreditsService(store)

	if _, err := svc.ApproveTaskRequest(context.Background(), "req-1"); err != nil {
		t.Fatalf("expected overage to be allowed without a policy, got %v", err)
	}
}

func TestApproveTaskRequest_RetriesOnStaleBalance(t *testing.T) {
	store := &mockCreditStore{
		balance:       activeBalance(100, 40),
		request:       pendingRequest(2),
		usedConflicts: 2,
	}
	svc := newCreditsService(store)

	if _, err := svc.ApproveTaskRequest(context.Background(), "req-1"); err != nil {
		t.Fatalf("expected retry to succeed within budget, got %v", err)
	}
	if len(store.usedAdvances) != 1 {
		t.Errorf("expected exactly one successful advance, got %d", len(store.usedAdvances))
	}
}

func TestApproveTaskRequest_ConcurrentApprovalConflicts(t *testing.T) {
	store := &mockCreditStore{
		balance:   activeBalance(100, 40),
		request:   pendingRequest(2),
		statusErr: &domain.ErrConflict{Message: "request is no longer pending"},
	}
	svc := newCreditsService(store)

	_, err := svc.ApproveTaskRequest(context.Background(), "req-1")
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(store.insertedTx) != 0 {
		t.Error("losing a concurrent approval must not double-charge")
	}
}

// --- Rejection ---

func TestRejectTaskRequest_RequiresReason(t *testing.T) {
	svc := newCreditsService(&mockCreditStore{request: pendingRequest(1)})

	_, err := svc.RejectTaskRequest(context.Background(), "req-1", "   ")
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRejectTaskRequest_Success(t *testing.T) {
	store := &mockCreditStore{request: pendingRequest(1)}
	svc := newCreditsService(store)

	rejected, err := svc.RejectTaskRequest(context.Background(), "req-1", "out of scope")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rejected.Status != domain.RequestRejected {
		t.Errorf("expected rejected status, got %s", rejected.Status)
	}
	if rejected.RejectionReason != "out of scope" {
		t.Errorf("expected reason carried, got %q", rejected.RejectionReason)
	}
	if len(store.insertedTx) != 0 {
		t.Error("rejection must not touch the ledger")
	}
}

// --- Purchases ---

func TestPurchaseCredits_Success(t *testing.T) {
	store := &mockCreditStore{balance: activeBalance(100, 40)}
	svc := newCreditsService(store)

	tx, err := svc.PurchaseCredits(context.Background(), "c1", &domain.PurchaseRequest{Credits: 20})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tx.CreditsAmount != 20 || tx.Type != domain.TxPurchase {
		t.Errorf("expected +20 purchase entry, got %+v", tx)
	}
	if len(store.totalAdvances) != 1 || store.totalAdvances[0] != 20 {
		t.Errorf("expected total_credits advanced by 20, got %v", store.totalAdvances)
	}
}

func TestPurchaseCredits_RejectsNonPositive(t *testing.T) {
	svc := newCreditsService(&mockCreditStore{})

	for _, credits := range []int{0, -5} {
		_, err := svc.PurchaseCredits(context.Background(), "c1", &domain.PurchaseRequest{Credits: credits})
		var verr *domain.ErrValidation
		if !errors.As(err, &verr) {
			t.Fatalf("credits=%d: expected validation error, got %v", credits, err)
		}
	}
}

// --- Limits ---

func TestGetClientLimit_DefaultsWhenMissing(t *testing.T) {
	svc := newCreditsService(&mockCreditStore{})

	limit, err := svc.GetClientLimit(context.Background(), "c1")
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if limit.AlertAtPercentage != domain.DefaultAlertPercentage {
		t.Errorf("expected default alert threshold, got %v", limit.AlertAtPercentage)
	}
	if limit.BlockAtLimit {
		t.Error("default policy must not block")
	}
}

func TestUpsertClientLimit_Validation(t *testing.T) {
	svc := newCreditsService(&mockCreditStore{})

	cases := []struct {
		name  string
		limit domain.ClientLimit
	}{
		{"missing client", domain.ClientLimit{OverageRate: 1.5, AlertAtPercentage: 80}},
		{"alert above 100", domain.ClientLimit{ClientID: "c1", OverageRate: 1.5, AlertAtPercentage: 120}},
		{"overage below 1", domain.ClientLimit{ClientID: "c1", OverageRate: 0.5, AlertAtPercentage: 80}},
		{"negative monthly", domain.ClientLimit{ClientID: "c1", OverageRate: 1.5, AlertAtPercentage: 80, MonthlyCredits: -10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpsertClientLimit(context.Background(), &tc.limit)
			var verr *domain.ErrValidation
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpsertClientLimit_Success(t *testing.T) {
	store := &mockCreditStore{}
	svc := newCreditsService(store)

	limit := &domain.ClientLimit{
		ClientID:          "c1",
		MonthlyCredits:    160,
		OverageRate:       1.5,
		AlertAtPercentage: 75,
		BlockAtLimit:      true,
	}
	saved, err := svc.UpsertClientLimit(context.Background(), limit)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if saved.MonthlyCredits != 160 {
		t.Errorf("expected saved limit returned, got %+v", saved)
	}
	if store.upsertedLimit == nil {
		t.Fatal("expected the limit to reach the store")
	}
}
