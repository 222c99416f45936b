package domain

import "time"

// ============================================================
// Scheduled Reports
// ============================================================

// ScheduledReport is a recurring report configuration. The external
// dispatcher reads next_run_at, sends, and calls back to advance it.
// Reports are deactivated, never deleted.
type ScheduledReport struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	TemplateID string    `json:"template_id"`
	Name       string    `json:"name"`
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  int       `json:"day_of_week"`
	DayOfMonth int       `json:"day_of_month"`
	TimeOfDay  string    `json:"time_of_day"`
	Recipients []string  `json:"recipients"`
	IsActive   bool      `json:"is_active"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	NextRunAt  time.Time  `json:"next_run_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ScheduledReportRequest is the create/update payload for a report.
type ScheduledReportRequest struct {
	TemplateID string    `json:"template_id"`
	Name       string    `json:"name"`
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  int       `json:"day_of_week"`
	DayOfMonth int       `json:"day_of_month"`
	TimeOfDay  string    `json:"time_of_day"`
	Recipients []string  `json:"recipients"`
}

// Recurrence extracts the schedule parameters for NextRun.
func (r *ScheduledReportRequest) Recurrence() Recurrence {
	return Recurrence{
		Frequency:  r.Frequency,
		DayOfWeek:  r.DayOfWeek,
		DayOfMonth: r.DayOfMonth,
		TimeOfDay:  r.TimeOfDay,
	}
}
