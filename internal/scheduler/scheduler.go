package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/crmjobs/internal/clock"
	"github.com/smallbiznis/crmjobs/internal/config"
	"github.com/smallbiznis/crmjobs/internal/distlock"
	estimatedomain "github.com/smallbiznis/crmjobs/internal/estimate/domain"
	invoicedomain "github.com/smallbiznis/crmjobs/internal/invoice/domain"
	obscontext "github.com/smallbiznis/crmjobs/internal/observability/context"
	obsmetrics "github.com/smallbiznis/crmjobs/internal/observability/metrics"
	signaturedomain "github.com/smallbiznis/crmjobs/internal/signature/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	// ErrGroupLocked means another instance holds the group lock and nothing ran.
	ErrGroupLocked = errors.New("scheduler_group_locked")
)

const (
	jobStatusSuccess = "success"
	jobStatusError   = "error"
	jobStatusTimeout = "timeout"
)

// Job is a named unit of maintenance work. Jobs of a group run in registry order.
type Job struct {
	Name  string
	Group string
	Run   func(ctx context.Context) error
}

// TriggerResult is returned to manual callers of a job group.
type TriggerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Option func(*Scheduler)

// WithJobs replaces the default job registry.
func WithJobs(jobs ...Job) Option {
	return func(s *Scheduler) {
		s.jobs = append([]Job(nil), jobs...)
	}
}

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
	InvoiceSvc   invoicedomain.Service
	EstimateSvc  estimatedomain.Service
	SignatureSvc signaturedomain.Service

	Schedule *config.ScheduleHolder       `optional:"true"`
	Locker   *distlock.Locker             `optional:"true"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	invoiceSvc   invoicedomain.Service
	estimateSvc  estimatedomain.Service
	signatureSvc signaturedomain.Service
	schedule     *config.ScheduleHolder
	locker       *distlock.Locker
	metrics      *obsmetrics.SchedulerMetrics
	tracer       trace.Tracer

	invoiceLoc *time.Location
	jobs       []Job
}

func New(p Params, opts ...Option) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	invoiceLoc, err := config.Location(cfg.InvoiceTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		invoiceSvc:   p.InvoiceSvc,
		estimateSvc:  p.EstimateSvc,
		signatureSvc: p.SignatureSvc,
		schedule:     p.Schedule,
		locker:       p.Locker,
		metrics:      p.Metrics,
		tracer:       otel.Tracer("crmjobs/scheduler"),
		invoiceLoc:   invoiceLoc,
	}
	s.jobs = s.defaultJobs()
	for _, opt := range opts {
		opt(s)
	}
	if len(s.jobs) == 0 {
		return nil, fmt.Errorf("%w: empty job registry", ErrInvalidConfig)
	}
	for _, job := range s.jobs {
		if job.Name == "" || job.Group == "" || job.Run == nil {
			return nil, fmt.Errorf("%w: incomplete job %q", ErrInvalidConfig, job.Name)
		}
	}
	return s, nil
}

// Jobs returns a copy of the registry.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

func (s *Scheduler) RunInvoiceJobs(ctx context.Context) error {
	return s.RunGroup(ctx, GroupInvoices)
}

func (s *Scheduler) RunSignatureJobs(ctx context.Context) error {
	return s.RunGroup(ctx, GroupSignatures)
}

// RunGroup runs every enabled job of a group in order. A failing or panicking job is
// logged and the remaining jobs still run; the joined error is returned. A job that
// hits its deadline is a soft timeout and does not fail the group. ErrGroupLocked is
// returned when another instance is already running the group.
func (s *Scheduler) RunGroup(parent context.Context, group string) error {
	_, err := s.runGroup(parent, group)
	return err
}

// runGroup also reports the jobs that timed out so manual callers can surface them.
func (s *Scheduler) runGroup(parent context.Context, group string) (timedOut []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: group %s: %v", obsmetrics.ErrJobPanicked, group, r)
			s.log.Error("scheduler group panicked", zap.String("group", group), zap.Any("panic", r))
		}
	}()

	release, ok, lockErr := s.locker.AcquireGroup(parent, group, s.cfg.LockTTL)
	if lockErr != nil {
		s.log.Warn("scheduler lock unavailable, running unguarded", zap.String("group", group), zap.Error(lockErr))
	} else if !ok {
		s.metrics.IncTriggerSkipped(group, obsmetrics.TriggerSkipReasonLocked)
		s.log.Info("scheduler group still running elsewhere, tick skipped", zap.String("group", group))
		return nil, fmt.Errorf("%w: %s", ErrGroupLocked, group)
	}
	defer release()

	matched := false
	for _, job := range s.jobs {
		if job.Group != group {
			continue
		}
		matched = true
		if !s.schedule.IsJobEnabled(job.Name) {
			s.log.Info("scheduler job disabled", zap.String("job", job.Name))
			continue
		}
		if ctxErr := parent.Err(); ctxErr != nil {
			err = errors.Join(err, fmt.Errorf("group %s aborted before %s: %w", group, job.Name, ctxErr))
			break
		}
		timeout, jobErr := s.runJob(parent, job)
		if timeout {
			timedOut = append(timedOut, job.Name)
		}
		err = errors.Join(err, jobErr)
	}
	if !matched {
		return nil, fmt.Errorf("unknown job group %q", group)
	}
	return timedOut, err
}

// TriggerInvoiceJobs runs the invoice group synchronously for manual callers.
func (s *Scheduler) TriggerInvoiceJobs(ctx context.Context) TriggerResult {
	return s.trigger(ctx, GroupInvoices, "Invoice jobs")
}

func (s *Scheduler) TriggerSignatureJobs(ctx context.Context) TriggerResult {
	return s.trigger(ctx, GroupSignatures, "Signature reminder jobs")
}

func (s *Scheduler) trigger(ctx context.Context, group string, label string) TriggerResult {
	ctx = obscontext.WithActor(ctx, "system", "manual_trigger")
	if obscontext.RequestIDFromContext(ctx) == "" {
		ctx = obscontext.WithRequestID(ctx, ulid.Make().String())
	}
	timedOut, err := s.runGroup(ctx, group)
	switch {
	case errors.Is(err, ErrGroupLocked):
		return TriggerResult{Success: false, Message: label + " skipped: already running on another instance"}
	case err != nil:
		return TriggerResult{Success: false, Message: fmt.Sprintf("%s failed: %v", label, err)}
	case len(timedOut) > 0:
		return TriggerResult{Success: false, Message: fmt.Sprintf("%s timed out: %s", label, strings.Join(timedOut, ", "))}
	}
	return TriggerResult{Success: true, Message: label + " completed"}
}

// runJob reports a deadline hit separately from the error, which stays nil for it.
func (s *Scheduler) runJob(parent context.Context, job Job) (bool, error) {
	timeout := s.jobTimeout(job.Name)
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithJobName(ctx, job.Name)
	ctx, span := s.tracer.Start(ctx, "scheduler.job",
		trace.WithAttributes(
			attribute.String("job.name", job.Name),
			attribute.String("job.group", job.Group),
		),
	)
	defer span.End()

	ctx, run, owner := s.ensureJobRun(ctx, job)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(job.Name)

	err := s.invoke(ctx, job)
	s.metrics.ObserveJobDuration(job.Name, time.Since(start))

	status := jobStatusSuccess
	isTimeout := errors.Is(err, context.DeadlineExceeded)
	switch {
	case err == nil:
	case isTimeout:
		status = jobStatusTimeout
	default:
		status = jobStatusError
	}
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	if owner {
		s.logJobFinish(ctx, run, status)
	}

	if err == nil {
		s.metrics.SetJobSuccess(job.Name, s.clock.Now())
		return false, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	s.metrics.IncJobError(job.Name, err)

	// deadline is a soft timeout; the job resumes on the next tick
	if isTimeout {
		s.metrics.IncJobTimeout(job.Name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", job.Name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return true, nil
	}

	s.logSchedulerError(ctx, nil, "scheduler.job.failed", job.Name, 0, err)
	return false, fmt.Errorf("%s: %w", job.Name, err)
}

func (s *Scheduler) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", obsmetrics.ErrJobPanicked, r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) jobTimeout(name string) time.Duration {
	if timeout := s.schedule.JobTimeout(name); timeout > 0 {
		return timeout
	}
	return s.cfg.JobTimeout
}

func (s *Scheduler) today() time.Time {
	return clock.Today(s.clock, s.invoiceLoc)
}
