package scheduler

import (
	"context"

	estimatedomain "github.com/smallbiznis/crmjobs/internal/estimate/domain"
	invoicedomain "github.com/smallbiznis/crmjobs/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/crmjobs/internal/observability/metrics"
	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
	"go.uber.org/zap"
)

const (
	JobOverdueInvoices    = "overdue_invoices"
	JobRecurringInvoices  = "recurring_invoices"
	JobExpiredEstimates   = "expired_estimates"
	JobSignatureReminders = "signature_reminders"
)

func (s *Scheduler) defaultJobs() []Job {
	return []Job{
		{Name: JobOverdueInvoices, Group: GroupInvoices, Run: s.OverdueInvoicesJob},
		{Name: JobRecurringInvoices, Group: GroupInvoices, Run: s.RecurringInvoicesJob},
		{Name: JobExpiredEstimates, Group: GroupInvoices, Run: s.ExpiredEstimatesJob},
		{Name: JobSignatureReminders, Group: GroupSignatures, Run: s.SignatureRemindersJob},
	}
}

func (s *Scheduler) OverdueInvoicesJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	marked, err := s.invoiceSvc.MarkOverdue(ctx, s.today())

	run.AddProcessed(len(marked))
	s.metrics.AddBatchProcessed(JobOverdueInvoices, obsmetrics.EntityInvoice, len(marked))
	byStatus := make(map[invoicedomain.InvoiceStatus]int)
	for _, inv := range marked {
		byStatus[inv.PreviousStatus]++
	}
	for from, count := range byStatus {
		s.metrics.AddEntityTransition(obsmetrics.EntityInvoice, string(from), string(invoicedomain.InvoiceStatusOverdue), count)
	}
	return err
}

func (s *Scheduler) RecurringInvoicesJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	result, err := s.invoiceSvc.GenerateRecurring(ctx, s.today())

	run.AddProcessed(len(result.Generated))
	s.metrics.AddBatchProcessed(JobRecurringInvoices, obsmetrics.EntityRecurringTemplate, len(result.Generated))
	completed := 0
	for _, generated := range result.Generated {
		if generated.TemplateCompleted {
			completed++
		}
		s.logger(s.withLogContext(ctx, generated.OrgID)).Info("invoice.recurring_generated",
			zap.String("template_id", generated.TemplateID.String()),
			zap.String("invoice_id", generated.InvoiceID.String()),
			zap.String("invoice_number", generated.InvoiceNumber),
			zap.String("next_run_date", generated.NextRunDate.Format("2006-01-02")),
		)
	}
	s.metrics.AddEntityTransition(obsmetrics.EntityRecurringTemplate,
		string(invoicedomain.TemplateStatusActive), string(invoicedomain.TemplateStatusCompleted), completed)

	for _, failure := range result.Failed {
		s.logSchedulerError(ctx, run, "scheduler.template.process.failed", JobRecurringInvoices, failure.OrgID, failure.Err,
			zap.String("template_id", failure.TemplateID.String()),
		)
	}
	return err
}

func (s *Scheduler) ExpiredEstimatesJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	expired, err := s.estimateSvc.ExpireEstimates(ctx, s.today())

	run.AddProcessed(len(expired))
	s.metrics.AddBatchProcessed(JobExpiredEstimates, obsmetrics.EntityEstimate, len(expired))
	s.metrics.AddEntityTransition(obsmetrics.EntityEstimate,
		string(estimatedomain.EstimateStatusSent), string(estimatedomain.EstimateStatusExpired), len(expired))
	return err
}

func (s *Scheduler) SignatureRemindersJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	result, err := s.signatureSvc.DispatchReminders(ctx)

	run.AddProcessed(result.Processed())
	s.metrics.AddBatchProcessed(JobSignatureReminders, obsmetrics.EntitySignatureReminder, result.Processed())
	s.metrics.AddEntityTransition(obsmetrics.EntitySignatureReminder,
		string(signaturedomain.ReminderStatusPending), string(signaturedomain.ReminderStatusSent), result.Sent)
	s.metrics.AddEntityTransition(obsmetrics.EntitySignatureReminder,
		string(signaturedomain.ReminderStatusPending), string(signaturedomain.ReminderStatusSkipped), result.Skipped)
	for i := 0; i < result.Deferred; i++ {
		s.metrics.IncBatchDeferred(JobSignatureReminders, obsmetrics.DeferredReasonSequentialNotActive)
	}
	for i := 0; i < result.Failed; i++ {
		s.metrics.IncBatchDeferred(JobSignatureReminders, obsmetrics.DeferredReasonDeliveryFailed)
	}
	return err
}
