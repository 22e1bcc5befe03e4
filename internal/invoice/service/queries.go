package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/crmjobs/internal/invoice/domain"
	"github.com/smallbiznis/crmjobs/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type overdueRow struct {
	ID            snowflake.ID
	OrgID         snowflake.ID
	InvoiceNumber string
	Status        invoicedomain.InvoiceStatus
	DueDate       time.Time
	AmountDue     decimal.Decimal
}

func (r overdueRow) toDomain() invoicedomain.OverdueInvoice {
	return invoicedomain.OverdueInvoice{
		ID:             r.ID,
		OrgID:          r.OrgID,
		InvoiceNumber:  r.InvoiceNumber,
		PreviousStatus: r.Status,
		DueDate:        r.DueDate,
		AmountDue:      r.AmountDue,
	}
}

func (s *Service) listOverdueCandidates(ctx context.Context, tx *gorm.DB, today time.Time) ([]invoicedomain.OverdueInvoice, error) {
	var rows []overdueRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_number, status, due_date, amount_due
		 FROM invoices
		 WHERE status IN ? AND due_date < ? AND amount_due > 0
		 ORDER BY due_date, id`,
		invoicedomain.OverdueCandidateStatuses,
		today,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.OverdueInvoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// markInvoicesOverdue re-reads the chunk under the candidate predicate so rows paid or
// cancelled since the listing are left alone, then flips the survivors.
func (s *Service) markInvoicesOverdue(ctx context.Context, tx *gorm.DB, chunk []invoicedomain.OverdueInvoice, today time.Time, now time.Time) ([]invoicedomain.OverdueInvoice, error) {
	ids := make([]snowflake.ID, 0, len(chunk))
	for _, inv := range chunk {
		ids = append(ids, inv.ID)
	}

	var rows []overdueRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_number, status, due_date, amount_due
		 FROM invoices
		 WHERE id IN ? AND status IN ? AND due_date < ? AND amount_due > 0
		 ORDER BY due_date, id`,
		ids,
		invoicedomain.OverdueCandidateStatuses,
		today,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	stillOpen := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		stillOpen = append(stillOpen, row.ID)
	}
	err = tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE id IN ? AND status IN ?`,
		invoicedomain.InvoiceStatusOverdue,
		now,
		stillOpen,
		invoicedomain.OverdueCandidateStatuses,
	).Error
	if err != nil {
		return nil, err
	}

	out := make([]invoicedomain.OverdueInvoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Service) listDueTemplates(ctx context.Context, tx *gorm.DB, today time.Time) ([]invoicedomain.RecurringTemplate, error) {
	var templates []invoicedomain.RecurringTemplate
	err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, contact_id, customer_name, customer_email, currency, items,
			subtotal, tax_amount, discount_amount, total, notes, frequency,
			next_run_date, end_date, payment_terms, status, last_run_date, invoices_generated
		 FROM recurring_invoice_templates
		 WHERE status = ? AND next_run_date <= ? AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY next_run_date, id`,
		invoicedomain.TemplateStatusActive,
		today,
		today,
	).Scan(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// allocateInvoiceNumber consumes one value of the tenant counter inside tx. The
// increment is a single UPDATE, so concurrent generators for the same tenant serialize
// on the row lock and never observe the same value. A tenant without settings is seeded
// with the first number already consumed.
func (s *Service) allocateInvoiceNumber(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, now time.Time) (invoicedomain.PaymentSettings, int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		result := tx.WithContext(ctx).Exec(
			`UPDATE payment_settings
			 SET next_invoice_number = next_invoice_number + 1, updated_at = ?
			 WHERE org_id = ?`,
			now,
			orgID,
		)
		if result.Error != nil {
			return invoicedomain.PaymentSettings{}, 0, result.Error
		}
		if result.RowsAffected > 0 {
			var settings invoicedomain.PaymentSettings
			err := tx.WithContext(ctx).Raw(
				`SELECT org_id, invoice_prefix, next_invoice_number, default_payment_terms
				 FROM payment_settings
				 WHERE org_id = ?`,
				orgID,
			).Scan(&settings).Error
			if err != nil {
				return invoicedomain.PaymentSettings{}, 0, err
			}
			if settings.InvoicePrefix == "" {
				settings.InvoicePrefix = invoicedomain.DefaultInvoicePrefix
			}
			return settings, settings.NextInvoiceNumber - 1, nil
		}

		settings := invoicedomain.PaymentSettings{
			OrgID:               orgID,
			InvoicePrefix:       invoicedomain.DefaultInvoicePrefix,
			NextInvoiceNumber:   2,
			DefaultPaymentTerms: invoicedomain.DefaultPaymentTerms,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		created := tx.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "org_id"}}, DoNothing: true}).
			Create(&settings)
		if created.Error != nil {
			return invoicedomain.PaymentSettings{}, 0, created.Error
		}
		if created.RowsAffected > 0 {
			return settings, 1, nil
		}
		// another generator seeded the row first; take the UPDATE path
	}
	return invoicedomain.PaymentSettings{}, 0, fmt.Errorf("payment settings for org %s could not be allocated", orgID)
}

func (s *Service) insertInvoice(ctx context.Context, tx *gorm.DB, invoice invoicedomain.Invoice) error {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, invoice_number, contact_id, customer_name, customer_email, currency,
			status, issue_date, due_date, subtotal, tax_amount, discount_amount, total,
			amount_paid, amount_due, notes, source_type, recurring_template_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrgID,
		invoice.InvoiceNumber,
		invoice.ContactID,
		invoice.CustomerName,
		invoice.CustomerEmail,
		invoice.Currency,
		invoice.Status,
		invoice.IssueDate,
		invoice.DueDate,
		invoice.Subtotal,
		invoice.TaxAmount,
		invoice.DiscountAmount,
		invoice.Total,
		invoice.AmountPaid,
		invoice.AmountDue,
		invoice.Notes,
		invoice.SourceType,
		invoice.RecurringTemplateID,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %s", invoicedomain.ErrInvoiceNumberTaken, invoice.InvoiceNumber)
	}
	return err
}

func (s *Service) insertInvoiceItem(ctx context.Context, tx *gorm.DB, item invoicedomain.InvoiceItem) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoice_items (
			id, invoice_id, description, quantity, unit_price, tax_rate,
			amount, tax_amount, total, sort_order, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.InvoiceID,
		item.Description,
		item.Quantity,
		item.UnitPrice,
		item.TaxRate,
		item.Amount,
		item.TaxAmount,
		item.Total,
		item.SortOrder,
		item.CreatedAt,
	).Error
}

// advanceTemplate is a compare-and-set on next_run_date: a concurrent run that already
// advanced the template makes this transaction roll back with ErrTemplateAdvanced.
func (s *Service) advanceTemplate(ctx context.Context, tx *gorm.DB, tpl invoicedomain.RecurringTemplate, advance invoicedomain.ScheduleAdvance, today time.Time, now time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE recurring_invoice_templates
		 SET next_run_date = ?, status = ?, last_run_date = ?,
			invoices_generated = invoices_generated + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND next_run_date = ?`,
		advance.NextRunDate,
		advance.Status,
		today,
		now,
		tpl.ID,
		invoicedomain.TemplateStatusActive,
		tpl.NextRunDate,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invoicedomain.ErrTemplateAdvanced
	}
	return nil
}
