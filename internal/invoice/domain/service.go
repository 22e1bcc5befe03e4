package domain

import (
	"context"
	"errors"
	"time"
)

// Service runs the invoice maintenance jobs. today is the calendar date, as a UTC
// midnight, observed in the scheduler's invoice timezone.
type Service interface {
	MarkOverdue(ctx context.Context, today time.Time) ([]OverdueInvoice, error)
	GenerateRecurring(ctx context.Context, today time.Time) (RecurringRunResult, error)
}

var (
	ErrInvalidFrequency   = errors.New("invalid_frequency")
	ErrInvalidLineItems   = errors.New("invalid_line_items")
	ErrTemplateAdvanced   = errors.New("template_already_advanced")
	ErrInvoiceNumberTaken = errors.New("invoice_number_taken")
)
