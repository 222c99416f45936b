package domain

import "github.com/shopspring/decimal"

// Fixed exchange rates for the agency's internal billing unit.
// One credit buys one hour of agency work at the standard rate.
const (
	CreditsPerHour = 1.0
)

// PricePerHour is the standard hourly rate in account currency.
var PricePerHour = decimal.NewFromInt(85)

// DefaultAlertPercentage applies when a client has no limit policy row.
const DefaultAlertPercentage = 80.0

// CreditsToHours converts credits to hours at the fixed exchange rate.
// Negative input (a deficit) converts proportionally, no clamping.
func CreditsToHours(credits float64) float64 {
	return credits / CreditsPerHour
}

// CreditsToCost converts credits to currency cost at the standard rate.
func CreditsToCost(credits float64) decimal.Decimal {
	return decimal.NewFromFloat(CreditsToHours(credits)).Mul(PricePerHour)
}

// OverageCost prices credits consumed beyond the allotment, applying the
// client's overage multiplier (≥ 1). Falls back to the standard rate when
// rate is below the legal minimum.
func OverageCost(credits float64, rate float64) decimal.Decimal {
	if rate < 1 {
		rate = 1
	}
	return CreditsToCost(credits).Mul(decimal.NewFromFloat(rate))
}

// TaskCredits converts an estimated duration in minutes into a credit
// cost, rounded up to the nearest whole credit so partial-credit work is
// never under-charged. Non-positive durations cost nothing.
func TaskCredits(durationMinutes int) int {
	if durationMinutes <= 0 {
		return 0
	}
	const minutesPerCredit = 60 / CreditsPerHour
	return (durationMinutes + int(minutesPerCredit) - 1) / int(minutesPerCredit)
}

// RemainingCredits is the period's unspent allotment. Negative under overage.
func RemainingCredits(total, used int) int {
	return total - used
}

// UsagePercentage is consumption as a percentage of the allotment.
// A missing or zero allotment reports 0 rather than dividing by zero.
func UsagePercentage(total, used int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// EvaluateThresholds derives the low/overage/at-limit flags for a client's
// usage against its limit policy. limit may be nil, in which case the
// default alert threshold applies against the balance's own allotment.
func EvaluateThresholds(total, used int, limit *ClientLimit) CreditStatus {
	alertAt := DefaultAlertPercentage
	creditLimit := total
	blockAtLimit := false

	if limit != nil {
		if limit.AlertAtPercentage > 0 {
			alertAt = limit.AlertAtPercentage
		}
		if limit.MonthlyCredits > 0 {
			creditLimit = limit.MonthlyCredits
		}
		blockAtLimit = limit.BlockAtLimit
	}

	var status CreditStatus
	if UsagePercentage(total, used) >= alertAt {
		status.IsLow = true
	}
	if creditLimit > 0 && used > creditLimit {
		status.IsOverage = true
	}
	if blockAtLimit && creditLimit > 0 && used >= creditLimit {
		status.IsAtLimit = true
	}
	return status
}

// Severity returns the single highest-precedence flag as a display label:
// at_limit > overage > low > ok.
func (s CreditStatus) Severity() string {
	switch {
	case s.IsAtLimit:
		return "at_limit"
	case s.IsOverage:
		return "overage"
	case s.IsLow:
		return "low"
	}
	return "ok"
}
