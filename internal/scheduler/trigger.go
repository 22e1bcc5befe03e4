package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/crmjobs/internal/config"
	"go.uber.org/zap"
)

// Trigger registers the job groups on a cron. Start is idempotent: the first call
// creates the Handle and later calls return it unchanged.
type Trigger struct {
	mu       sync.Mutex
	sched    *Scheduler
	cfg      Config
	schedule *config.ScheduleHolder
	log      *zap.Logger
	handle   *Handle
}

func NewTrigger(sched *Scheduler, cfg Config, schedule *config.ScheduleHolder, log *zap.Logger) *Trigger {
	return &Trigger{
		sched:    sched,
		cfg:      cfg.withDefaults(),
		schedule: schedule,
		log:      log.Named("scheduler.trigger"),
	}
}

// Handle owns a running cron and the optional startup run.
type Handle struct {
	cron   *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string

	startupTimer *time.Timer
	startupDone  chan struct{}

	stopOnce sync.Once
}

func (t *Trigger) Start(ctx context.Context) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle != nil {
		t.log.Info("scheduler already started")
		return t.handle, nil
	}

	specs := t.specs(t.schedule.Get())

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(t.log)))))
	h := &Handle{
		cron:    c,
		runCtx:  runCtx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID, len(specs)),
		specs:   make(map[string]string, len(specs)),
	}
	for _, group := range groupOrder {
		if err := h.register(group, specs[group], t.groupFunc(runCtx, group)); err != nil {
			cancel()
			return nil, err
		}
	}
	c.Start()
	t.schedule.OnChange(t.reschedule)

	if t.cfg.RunOnStartup {
		h.startupDone = make(chan struct{})
		h.startupTimer = time.AfterFunc(t.cfg.StartupDelay, func() {
			defer close(h.startupDone)
			t.runGroup(runCtx, GroupInvoices)
		})
	}

	t.log.Info("scheduler started",
		zap.String("invoice_schedule", specs[GroupInvoices]),
		zap.String("signature_schedule", specs[GroupSignatures]),
		zap.Bool("run_on_startup", t.cfg.RunOnStartup),
	)
	t.handle = h
	return h, nil
}

var groupOrder = []string{GroupInvoices, GroupSignatures}

func (t *Trigger) specs(schedule config.ScheduleConfig) map[string]string {
	return map[string]string{
		GroupInvoices:   cronSpec(t.cfg.InvoiceTimezone, schedule.InvoiceJobs.Cron),
		GroupSignatures: cronSpec(t.cfg.SignatureTimezone, schedule.SignatureJobs.Cron),
	}
}

func (t *Trigger) groupFunc(ctx context.Context, group string) func() {
	return func() { t.runGroup(ctx, group) }
}

// reschedule swaps cron entries whose expression changed on a schedule reload.
// An invalid expression keeps the previous entry.
func (t *Trigger) reschedule(schedule config.ScheduleConfig) {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	if h == nil {
		return
	}
	specs := t.specs(schedule)
	for _, group := range groupOrder {
		changed, err := h.replace(group, specs[group], t.groupFunc(h.runCtx, group))
		if err != nil {
			t.log.Warn("cron reload rejected, keeping previous schedule", zap.String("group", group), zap.Error(err))
			continue
		}
		if changed {
			t.log.Info("cron schedule reloaded", zap.String("group", group), zap.String("schedule", specs[group]))
		}
	}
}

func (t *Trigger) runGroup(ctx context.Context, group string) {
	err := t.sched.RunGroup(ctx, group)
	if err == nil || errors.Is(err, ErrGroupLocked) {
		return
	}
	t.log.Error("scheduled run finished with errors", zap.String("group", group), zap.Error(err))
}

// Stop cancels future ticks and waits for running jobs until ctx expires.
func (h *Handle) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}
	var err error
	h.stopOnce.Do(func() {
		defer h.cancel()

		waitStartup := false
		if h.startupTimer != nil && !h.startupTimer.Stop() {
			waitStartup = true
		}
		done := h.cron.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		if waitStartup {
			select {
			case <-h.startupDone:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	})
	return err
}

func (h *Handle) register(group, spec string, fn func()) error {
	id, err := h.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("register %s schedule %q: %w", group, spec, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[group] = id
	h.specs[group] = spec
	return nil
}

func (h *Handle) replace(group, spec string, fn func()) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.specs[group] == spec {
		return false, nil
	}
	id, err := h.cron.AddFunc(spec, fn)
	if err != nil {
		return false, fmt.Errorf("register %s schedule %q: %w", group, spec, err)
	}
	if old, ok := h.entries[group]; ok {
		h.cron.Remove(old)
	}
	h.entries[group] = id
	h.specs[group] = spec
	return true, nil
}

// NextRun reports when a group fires next after from.
func (h *Handle) NextRun(group string, from time.Time) (time.Time, bool) {
	h.mu.Lock()
	id, ok := h.entries[group]
	h.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := h.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Schedule.Next(from), true
}

func cronSpec(timezone, expr string) string {
	if timezone == "" {
		return expr
	}
	return fmt.Sprintf("CRON_TZ=%s %s", timezone, expr)
}
