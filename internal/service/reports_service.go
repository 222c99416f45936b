package service

import (
	"context"
	"strings"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"
	"github.com/harborview/agency-dashboard-go/internal/infra/observability"
	"github.com/harborview/agency-dashboard-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var reportsTracer = otel.Tracer("service/reports")

// ReportsService manages scheduled report configurations and their
// recurrence. Send timing lives entirely in next_run_at: the service
// computes it, the external dispatcher consumes it.
type ReportsService struct {
	store   port.ReportStore
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportsService creates a new reports service.
func NewReportsService(store port.ReportStore, metrics *observability.Metrics, logger *zap.Logger) *ReportsService {
	return &ReportsService{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Tests pin it.
func (s *ReportsService) WithClock(now func() time.Time) *ReportsService {
	s.now = now
	return s
}

func (s *ReportsService) validateRequest(req *domain.ScheduledReportRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if req.TemplateID == "" {
		return &domain.ErrValidation{Field: "template_id", Message: "required"}
	}
	if len(req.Recipients) == 0 {
		return &domain.ErrValidation{Field: "recipients", Message: "at least one recipient required"}
	}
	return nil
}

// CreateReport registers a new schedule and computes its first run time.
func (s *ReportsService) CreateReport(ctx context.Context, clientID string, req *domain.ScheduledReportRequest) (*domain.ScheduledReport, error) {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.CreateReport")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	if clientID == "" {
		return nil, &domain.ErrValidation{Field: "client_id", Message: "required"}
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	nextRun, err := domain.NextRun(s.now(), req.Recurrence())
	if err != nil {
		return nil, err
	}
	s.metrics.IncrReportComputed()

	report := &domain.ScheduledReport{
		ClientID:   clientID,
		TemplateID: req.TemplateID,
		Name:       req.Name,
		Frequency:  req.Frequency,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		TimeOfDay:  req.TimeOfDay,
		Recipients: req.Recipients,
		IsActive:   true,
		NextRunAt:  nextRun,
	}

	created, err := s.store.InsertScheduledReport(ctx, report)
	if err != nil {
		s.logger.Error("failed to insert scheduled report", zap.String("client_id", clientID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("scheduled report created",
		zap.String("client_id", clientID),
		zap.String("report_id", created.ID),
		zap.Time("next_run_at", created.NextRunAt),
	)
	return created, nil
}

// UpdateReport replaces a schedule's configuration and recomputes
// next_run_at from the new recurrence.
func (s *ReportsService) UpdateReport(ctx context.Context, reportID string, req *domain.ScheduledReportRequest) (*domain.ScheduledReport, error) {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.UpdateReport")
	defer span.End()
	span.SetAttributes(attribute.String("report.id", reportID))

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	existing, err := s.store.GetScheduledReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	nextRun, err := domain.NextRun(s.now(), req.Recurrence())
	if err != nil {
		return nil, err
	}
	s.metrics.IncrReportComputed()

	fields := map[string]any{
		"template_id":  req.TemplateID,
		"name":         req.Name,
		"frequency":    req.Frequency,
		"day_of_week":  req.DayOfWeek,
		"day_of_month": req.DayOfMonth,
		"time_of_day":  req.TimeOfDay,
		"recipients":   req.Recipients,
		"next_run_at":  nextRun.Format(time.RFC3339),
	}
	if err := s.store.UpdateScheduledReport(ctx, reportID, fields); err != nil {
		return nil, err
	}

	updated := *existing
	updated.TemplateID = req.TemplateID
	updated.Name = req.Name
	updated.Frequency = req.Frequency
	updated.DayOfWeek = req.DayOfWeek
	updated.DayOfMonth = req.DayOfMonth
	updated.TimeOfDay = req.TimeOfDay
	updated.Recipients = req.Recipients
	updated.NextRunAt = nextRun

	s.logger.Info("scheduled report updated",
		zap.String("report_id", reportID),
		zap.Time("next_run_at", nextRun),
	)
	return &updated, nil
}

// ListReports returns all of a client's schedules, active and inactive.
func (s *ReportsService) ListReports(ctx context.Context, clientID string) ([]domain.ScheduledReport, error) {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.ListReports")
	defer span.End()

	return s.store.ListScheduledReports(ctx, clientID)
}

// GetReport returns a single schedule by ID.
func (s *ReportsService) GetReport(ctx context.Context, reportID string) (*domain.ScheduledReport, error) {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.GetReport")
	defer span.End()

	return s.store.GetScheduledReport(ctx, reportID)
}

// DeactivateReport flips is_active off. The row stays for history.
func (s *ReportsService) DeactivateReport(ctx context.Context, reportID string) error {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.DeactivateReport")
	defer span.End()

	if err := s.store.UpdateScheduledReport(ctx, reportID, map[string]any{"is_active": false}); err != nil {
		return err
	}
	s.logger.Info("scheduled report deactivated", zap.String("report_id", reportID))
	return nil
}

// ListDueReports returns active schedules whose next_run_at has passed.
// The dispatcher polls this.
func (s *ReportsService) ListDueReports(ctx context.Context) ([]domain.ScheduledReport, error) {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.ListDueReports")
	defer span.End()

	return s.store.ListDueReports(ctx, s.now())
}

// MarkReportSent records a completed send and advances next_run_at to
// the following occurrence.
func (s *ReportsService) MarkReportSent(ctx context.Context, reportID string) (*domain.ScheduledReport, error) {
	ctx, span := reportsTracer.Start(ctx, "ReportsService.MarkReportSent")
	defer span.End()
	span.SetAttributes(attribute.String("report.id", reportID))

	report, err := s.store.GetScheduledReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	nextRun, err := domain.NextRun(now, domain.Recurrence{
		Frequency:  report.Frequency,
		DayOfWeek:  report.DayOfWeek,
		DayOfMonth: report.DayOfMonth,
		TimeOfDay:  report.TimeOfDay,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrReportComputed()

	fields := map[string]any{
		"last_sent_at": now.Format(time.RFC3339),
		"next_run_at":  nextRun.Format(time.RFC3339),
	}
	if err := s.store.UpdateScheduledReport(ctx, reportID, fields); err != nil {
		return nil, err
	}

	updated := *report
	updated.LastSentAt = &now
	updated.NextRunAt = nextRun

	s.logger.Info("scheduled report marked sent",
		zap.String("report_id", reportID),
		zap.Time("next_run_at", nextRun),
	)
	return &updated, nil
}
