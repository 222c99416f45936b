package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/domain"
)

// ============================================================
// Scheduled reports store (implements port.ReportStore)
// ============================================================

func (c *Client) ListScheduledReports(ctx context.Context, clientID string) ([]domain.ScheduledReport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListScheduledReports")
	defer span.End()

	path := fmt.Sprintf("scheduled_reports?client_id=eq.%s&order=created_at.desc", url.QueryEscape(clientID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/scheduled_reports", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return []domain.ScheduledReport{}, nil
	}

	var rows []domain.ScheduledReport
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode scheduled_reports: %w", err)
	}
	return rows, nil
}

func (c *Client) GetScheduledReport(ctx context.Context, reportID string) (*domain.ScheduledReport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetScheduledReport")
	defer span.End()

	path := fmt.Sprintf("scheduled_reports?id=eq.%s&limit=1", url.QueryEscape(reportID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/scheduled_reports", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "scheduled_report", ID: reportID}
	}

	var rows []domain.ScheduledReport
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode scheduled_report: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "scheduled_report", ID: reportID}
	}
	return &rows[0], nil
}

func (c *Client) InsertScheduledReport(ctx context.Context, report *domain.ScheduledReport) (*domain.ScheduledReport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertScheduledReport")
	defer span.End()

	row := map[string]any{
		"client_id":    report.ClientID,
		"template_id":  report.TemplateID,
		"name":         report.Name,
		"frequency":    string(report.Frequency),
		"day_of_week":  report.DayOfWeek,
		"day_of_month": report.DayOfMonth,
		"time_of_day":  report.TimeOfDay,
		"recipients":   report.Recipients,
		"is_active":    true,
		"next_run_at":  report.NextRunAt.Format(time.RFC3339),
	}

	body, err := c.doPost(ctx, "scheduled_reports", row)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/scheduled_reports", Err: err}
	}

	var results []domain.ScheduledReport
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decode scheduled_report: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result from scheduled_reports insert")
	}
	return &results[0], nil
}

func (c *Client) UpdateScheduledReport(ctx context.Context, reportID string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateScheduledReport")
	defer span.End()

	fields["updated_at"] = time.Now().Format(time.RFC3339)
	n, err := c.doPatch(ctx, fmt.Sprintf("scheduled_reports?id=eq.%s", url.QueryEscape(reportID)), fields)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/scheduled_reports", Err: err}
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "scheduled_report", ID: reportID}
	}
	return nil
}

// ListDueReports returns active reports whose next_run_at is at or before
// dueBy, oldest first, for the external dispatcher.
func (c *Client) ListDueReports(ctx context.Context, dueBy time.Time) ([]domain.ScheduledReport, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListDueReports")
	defer span.End()

	path := fmt.Sprintf("scheduled_reports?is_active=eq.true&next_run_at=lte.%s&order=next_run_at.asc",
		url.QueryEscape(dueBy.Format(time.RFC3339)))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/scheduled_reports", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return []domain.ScheduledReport{}, nil
	}

	var rows []domain.ScheduledReport
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode scheduled_reports: %w", err)
	}
	return rows, nil
}
