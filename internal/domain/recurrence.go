package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is how often a scheduled report fires.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly:
		return true
	}
	return false
}

// DefaultTimeOfDay is used when a schedule omits or mangles its HH:MM.
const DefaultTimeOfDay = "09:00"

// Recurrence is the schedule configuration a report carries.
// DayOfWeek (0 = Sunday) is meaningful only for weekly, DayOfMonth only
// for monthly.
type Recurrence struct {
	Frequency  Frequency
	DayOfWeek  int
	DayOfMonth int
	TimeOfDay  string // "HH:MM"
}

// NextRun computes the next firing instant strictly after now.
//
// now is an explicit input so callers control the clock; the function is
// deterministic and never reads wall time. For monthly schedules a
// DayOfMonth past the end of the target month is clamped to the month's
// last day (31 in April fires on the 30th, not in May).
func NextRun(now time.Time, r Recurrence) (time.Time, error) {
	if !r.Frequency.Valid() {
		return time.Time{}, &ErrValidation{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", r.Frequency)}
	}

	hour, minute := parseTimeOfDay(r.TimeOfDay)
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	switch r.Frequency {
	case FreqDaily:
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}

	case FreqWeekly:
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return time.Time{}, &ErrValidation{Field: "day_of_week", Message: "must be between 0 (Sunday) and 6"}
		}
		daysUntil := r.DayOfWeek - int(now.Weekday())
		if daysUntil < 0 || (daysUntil == 0 && !candidate.After(now)) {
			daysUntil += 7
		}
		candidate = candidate.AddDate(0, 0, daysUntil)

	case FreqMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return time.Time{}, &ErrValidation{Field: "day_of_month", Message: "must be between 1 and 31"}
		}
		candidate = onDayOfMonth(now.Year(), now.Month(), r.DayOfMonth, hour, minute, now.Location())
		if !candidate.After(now) {
			y, m := now.Year(), now.Month()+1
			candidate = onDayOfMonth(y, m, r.DayOfMonth, hour, minute, now.Location())
		}
	}

	return candidate, nil
}

// onDayOfMonth builds a timestamp on the requested day, clamped to the
// last valid day of the (normalized) target month.
func onDayOfMonth(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	// Normalize month overflow (e.g. December + 1) via time.Date.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day, hour, minute, 0, 0, loc)
}

// parseTimeOfDay parses "HH:MM", falling back to DefaultTimeOfDay on any
// malformed input.
func parseTimeOfDay(s string) (hour, minute int) {
	h, m, ok := splitHHMM(s)
	if !ok {
		h, m, _ = splitHHMM(DefaultTimeOfDay)
	}
	return h, m
}

func splitHHMM(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
