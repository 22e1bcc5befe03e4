package domain

import (
	"fmt"
	"time"
)

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// NextRunDate adds one period to from. Month overflow follows time.AddDate
// normalization, so Jan 31 + 1 month lands on Mar 2 (or Mar 3 in leap years).
func NextRunDate(from time.Time, freq Frequency) (time.Time, error) {
	switch freq {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	case FrequencyQuarterly:
		return from.AddDate(0, 3, 0), nil
	case FrequencyYearly:
		return from.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
	}
}

// ScheduleAdvance is the template state after one generation.
type ScheduleAdvance struct {
	NextRunDate time.Time
	Status      TemplateStatus
}

// AdvanceSchedule moves a template one period forward. When the advanced date passes
// endDate the template completes and next_run_date is frozen at endDate.
func AdvanceSchedule(current time.Time, endDate *time.Time, freq Frequency) (ScheduleAdvance, error) {
	next, err := NextRunDate(current, freq)
	if err != nil {
		return ScheduleAdvance{}, err
	}
	if endDate != nil && next.After(*endDate) {
		return ScheduleAdvance{NextRunDate: *endDate, Status: TemplateStatusCompleted}, nil
	}
	return ScheduleAdvance{NextRunDate: next, Status: TemplateStatusActive}, nil
}

// DueDate returns issueDate plus the payment terms in days, defaulting to 30.
func DueDate(issueDate time.Time, terms *int) time.Time {
	days := DefaultPaymentTerms
	if terms != nil && *terms >= 0 {
		days = *terms
	}
	return issueDate.AddDate(0, 0, days)
}
