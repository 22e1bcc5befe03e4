package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/crmjobs/internal/audit/domain"
	"github.com/smallbiznis/crmjobs/internal/authorization"
	"github.com/smallbiznis/crmjobs/internal/clock"
	invoicedomain "github.com/smallbiznis/crmjobs/internal/invoice/domain"
	"github.com/smallbiznis/crmjobs/internal/invoice/format"
	"github.com/smallbiznis/crmjobs/internal/observability/logger"
	"github.com/smallbiznis/crmjobs/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const overdueUpdateChunk = 500

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service   `optional:"true"`
	Authz    authorization.Service `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID          *snowflake.Node
	clock          clock.Clock
	auditSvc       auditdomain.Service
	authzSvc       authorization.Service
	metrics        *metrics.Metrics
	numberTemplate string
}

func NewService(p ServiceParam) invoicedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: c,

		auditSvc:       p.AuditSvc,
		authzSvc:       p.Authz,
		metrics:        p.Metrics,
		numberTemplate: format.DefaultInvoiceNumberTemplate,
	}
}

// MarkOverdue moves every sent, viewed or partial invoice with a positive balance
// whose due date is before today into overdue. Running it twice on the same day is a no-op the second time.
func (s *Service) MarkOverdue(ctx context.Context, today time.Time) ([]invoicedomain.OverdueInvoice, error) {
	log := logger.WithContext(ctx, s.log)

	candidates, err := s.listOverdueCandidates(ctx, s.db, today)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	candidates = s.filterAuthorized(ctx, candidates, authorization.ObjectInvoice, authorization.ActionInvoiceMarkOverdue)

	now := s.clock.Now().UTC()
	var marked []invoicedomain.OverdueInvoice
	for start := 0; start < len(candidates); start += overdueUpdateChunk {
		end := start + overdueUpdateChunk
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			updated, err := s.markInvoicesOverdue(ctx, tx, chunk, today, now)
			if err != nil {
				return err
			}
			marked = append(marked, updated...)
			return nil
		})
		if err != nil {
			return marked, err
		}
	}

	for i := range marked {
		s.emitAudit(ctx, "invoice.overdue", marked[i].OrgID, marked[i].ID, map[string]any{
			"invoice_number":  marked[i].InvoiceNumber,
			"previous_status": string(marked[i].PreviousStatus),
			"due_date":        marked[i].DueDate.Format("2006-01-02"),
			"amount_due":      marked[i].AmountDue.String(),
		})
	}
	s.metrics.RecordInvoicesOverdue(ctx, len(marked))

	log.Info("overdue invoices marked",
		zap.Int("candidates", len(candidates)),
		zap.Int("marked", len(marked)),
		zap.String("today", today.Format("2006-01-02")),
	)
	return marked, nil
}

// GenerateRecurring spawns one invoice for every active template due on or before today.
// Each template runs in its own transaction; a failing template is reported and skipped.
func (s *Service) GenerateRecurring(ctx context.Context, today time.Time) (invoicedomain.RecurringRunResult, error) {
	log := logger.WithContext(ctx, s.log)

	templates, err := s.listDueTemplates(ctx, s.db, today)
	if err != nil {
		return invoicedomain.RecurringRunResult{}, err
	}

	var result invoicedomain.RecurringRunResult
	for _, tpl := range templates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		generated, err := s.generateFromTemplate(ctx, tpl, today)
		if err != nil {
			log.Error("recurring template generation failed",
				zap.String("org_id", tpl.OrgID.String()),
				zap.String("template_id", tpl.ID.String()),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, invoicedomain.TemplateFailure{
				TemplateID: tpl.ID,
				OrgID:      tpl.OrgID,
				Err:        err,
			})
			continue
		}
		result.Generated = append(result.Generated, generated)
	}

	log.Info("recurring invoices generated",
		zap.Int("due_templates", len(templates)),
		zap.Int("generated", len(result.Generated)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Service) generateFromTemplate(ctx context.Context, tpl invoicedomain.RecurringTemplate, today time.Time) (invoicedomain.GeneratedInvoice, error) {
	if err := s.authorize(ctx, tpl.OrgID, authorization.ObjectInvoice, authorization.ActionInvoiceGenerateRecurring); err != nil {
		return invoicedomain.GeneratedInvoice{}, err
	}
	if err := s.authorize(ctx, tpl.OrgID, authorization.ObjectRecurringTemplate, authorization.ActionTemplateAdvance); err != nil {
		return invoicedomain.GeneratedInvoice{}, err
	}

	now := s.clock.Now().UTC()
	var generated invoicedomain.GeneratedInvoice
	var createdInvoice invoicedomain.Invoice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, seq, err := s.allocateInvoiceNumber(ctx, tx, tpl.OrgID, now)
		if err != nil {
			return err
		}
		number, err := format.FormatInvoiceNumber(s.numberTemplate, settings.InvoicePrefix, today, seq)
		if err != nil {
			return err
		}

		terms := tpl.PaymentTerms
		if terms == nil && settings.DefaultPaymentTerms > 0 {
			terms = &settings.DefaultPaymentTerms
		}

		sourceType := invoicedomain.SourceTypeRecurring
		templateID := tpl.ID
		invoice := invoicedomain.Invoice{
			ID:                  s.genID.Generate(),
			OrgID:               tpl.OrgID,
			InvoiceNumber:       number,
			ContactID:           tpl.ContactID,
			CustomerName:        tpl.CustomerName,
			CustomerEmail:       tpl.CustomerEmail,
			Currency:            tpl.Currency,
			Status:              invoicedomain.InvoiceStatusDraft,
			IssueDate:           today,
			DueDate:             invoicedomain.DueDate(today, terms),
			Subtotal:            tpl.Subtotal,
			TaxAmount:           tpl.TaxAmount,
			DiscountAmount:      tpl.DiscountAmount,
			Total:               tpl.Total,
			AmountDue:           tpl.Total,
			Notes:               tpl.Notes,
			SourceType:          &sourceType,
			RecurringTemplateID: &templateID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.insertInvoice(ctx, tx, invoice); err != nil {
			return err
		}

		items, err := invoicedomain.ParseLineItems(tpl.Items)
		if err != nil {
			return err
		}
		for i, item := range items {
			totals := item.Totals()
			if err := s.insertInvoiceItem(ctx, tx, invoicedomain.InvoiceItem{
				ID:          s.genID.Generate(),
				InvoiceID:   invoice.ID,
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				TaxRate:     item.TaxRate,
				Amount:      totals.Amount,
				TaxAmount:   totals.TaxAmount,
				Total:       totals.Total,
				SortOrder:   i,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		advance, err := invoicedomain.AdvanceSchedule(tpl.NextRunDate, tpl.EndDate, tpl.Frequency)
		if err != nil {
			return err
		}
		if err := s.advanceTemplate(ctx, tx, tpl, advance, today, now); err != nil {
			return err
		}

		createdInvoice = invoice
		generated = invoicedomain.GeneratedInvoice{
			TemplateID:        tpl.ID,
			InvoiceID:         invoice.ID,
			InvoiceNumber:     number,
			OrgID:             tpl.OrgID,
			NextRunDate:       advance.NextRunDate,
			TemplateCompleted: advance.Status == invoicedomain.TemplateStatusCompleted,
		}
		return nil
	})
	if err != nil {
		return invoicedomain.GeneratedInvoice{}, err
	}

	s.emitAudit(ctx, "invoice.recurring_generated", createdInvoice.OrgID, createdInvoice.ID, map[string]any{
		"invoice_number":        createdInvoice.InvoiceNumber,
		"recurring_template_id": tpl.ID.String(),
		"frequency":             string(tpl.Frequency),
		"issue_date":            createdInvoice.IssueDate.Format("2006-01-02"),
		"due_date":              createdInvoice.DueDate.Format("2006-01-02"),
		"total":                 createdInvoice.Total.String(),
		"template_completed":    generated.TemplateCompleted,
	})
	s.metrics.RecordInvoiceGenerated(ctx, string(tpl.Frequency))
	return generated, nil
}

func (s *Service) authorize(ctx context.Context, orgID snowflake.ID, object, action string) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, authorization.ActorSystem, orgID.String(), object, action)
}

// filterAuthorized drops rows whose tenant denies the action. Each tenant is checked once.
func (s *Service) filterAuthorized(ctx context.Context, rows []invoicedomain.OverdueInvoice, object, action string) []invoicedomain.OverdueInvoice {
	if s.authzSvc == nil {
		return rows
	}
	decisions := make(map[snowflake.ID]bool)
	filtered := rows[:0:0]
	for _, row := range rows {
		orgID := row.OrgID
		allowed, seen := decisions[orgID]
		if !seen {
			err := s.authorize(ctx, orgID, object, action)
			if err != nil && !errors.Is(err, authorization.ErrForbidden) {
				s.log.Warn("authorization check failed", zap.String("org_id", orgID.String()), zap.Error(err))
			}
			allowed = err == nil
			decisions[orgID] = allowed
		}
		if allowed {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func (s *Service) emitAudit(ctx context.Context, action string, orgID snowflake.ID, invoiceID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := invoiceID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("invoice_id", targetID),
			zap.Error(err),
		)
	}
}
