package scheduler

import (
	"time"

	"github.com/smallbiznis/crmjobs/internal/config"
)

const (
	GroupInvoices   = "invoices"
	GroupSignatures = "signatures"
)

// Config controls trigger timezones, job deadlines and the overlap guard.
type Config struct {
	InvoiceTimezone   string
	SignatureTimezone string
	JobTimeout        time.Duration
	LockTTL           time.Duration
	RunOnStartup      bool
	StartupDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		InvoiceTimezone:   "America/New_York",
		SignatureTimezone: "America/New_York",
		JobTimeout:        5 * time.Minute,
		LockTTL:           30 * time.Minute,
		StartupDelay:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.InvoiceTimezone == "" {
		c.InvoiceTimezone = defaults.InvoiceTimezone
	}
	if c.SignatureTimezone == "" {
		c.SignatureTimezone = defaults.SignatureTimezone
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = defaults.StartupDelay
	}
	return c
}

// ProvideConfig maps application config; the startup run only fires in development.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		InvoiceTimezone:   cfg.Scheduler.InvoiceTimezone,
		SignatureTimezone: cfg.Scheduler.SignatureTimezone,
		RunOnStartup:      cfg.IsDevelopment() && cfg.Scheduler.RunOnStartup,
		StartupDelay:      cfg.Scheduler.StartupDelay,
	}.withDefaults()
}
