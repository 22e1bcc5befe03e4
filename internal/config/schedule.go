package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ScheduleConfig holds the hot-reloadable cron and job switches.
type ScheduleConfig struct {
	InvoiceJobs   GroupSchedule        `mapstructure:"invoice_jobs"`
	SignatureJobs GroupSchedule        `mapstructure:"signature_jobs"`
	Jobs          map[string]JobToggle `mapstructure:"jobs"`
}

type GroupSchedule struct {
	Cron string `mapstructure:"cron"`
}

type JobToggle struct {
	Enabled *bool         `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		InvoiceJobs:   GroupSchedule{Cron: "0 6 * * *"},
		SignatureJobs: GroupSchedule{Cron: "0 * * * *"},
		Jobs:          map[string]JobToggle{},
	}
}

type ScheduleHolder struct {
	current atomic.Value // holds ScheduleConfig

	mu        sync.Mutex
	listeners []func(ScheduleConfig)
}

// NewScheduleHolderFrom wraps a static config, used by tests and one-shot commands.
func NewScheduleHolderFrom(cfg ScheduleConfig) *ScheduleHolder {
	holder := &ScheduleHolder{}
	holder.current.Store(normalizeSchedule(cfg))
	return holder
}

func NewScheduleHolder(cfg Config, log *zap.Logger) (*ScheduleHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()

	if cfg.ScheduleConfigPath != "" {
		v.SetConfigFile(cfg.ScheduleConfigPath)
	} else {
		v.SetConfigName("schedule")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/crmjobs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CRMJOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultScheduleConfig()
	v.SetDefault("invoice_jobs.cron", defaults.InvoiceJobs.Cron)
	v.SetDefault("signature_jobs.cron", defaults.SignatureJobs.Cron)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read schedule config: %w", err)
		}
		fileLoaded = false
	}

	current, err := unmarshalSchedule(v)
	if err != nil {
		return nil, err
	}

	holder := &ScheduleHolder{}
	holder.current.Store(current)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := unmarshalSchedule(v)
			if err == nil {
				err = holder.Replace(updated)
			}
			if err != nil {
				log.Warn("schedule config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			log.Info("schedule config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// OnChange registers fn to run after every accepted reload.
func (h *ScheduleHolder) OnChange(fn func(ScheduleConfig)) {
	if h == nil || fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Replace validates cfg, swaps it in and notifies listeners.
func (h *ScheduleHolder) Replace(cfg ScheduleConfig) error {
	if h == nil {
		return errors.New("schedule holder is nil")
	}
	cfg = normalizeSchedule(cfg)
	if err := validateSchedule(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)

	h.mu.Lock()
	listeners := make([]func(ScheduleConfig), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

func (h *ScheduleHolder) Get() ScheduleConfig {
	if h == nil {
		return DefaultScheduleConfig()
	}
	return h.current.Load().(ScheduleConfig)
}

// IsJobEnabled reports whether a job may run; jobs without an entry are enabled.
func (h *ScheduleHolder) IsJobEnabled(name string) bool {
	toggle, ok := h.Get().Jobs[name]
	if !ok || toggle.Enabled == nil {
		return true
	}
	return *toggle.Enabled
}

// JobTimeout returns the configured timeout for a job, or zero when unset.
func (h *ScheduleHolder) JobTimeout(name string) time.Duration {
	return h.Get().Jobs[name].Timeout
}

func unmarshalSchedule(v *viper.Viper) (ScheduleConfig, error) {
	var cfg ScheduleConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ScheduleConfig{}, fmt.Errorf("decode schedule config: %w", err)
	}
	cfg = normalizeSchedule(cfg)
	if err := validateSchedule(cfg); err != nil {
		return ScheduleConfig{}, err
	}
	return cfg, nil
}

func normalizeSchedule(cfg ScheduleConfig) ScheduleConfig {
	defaults := DefaultScheduleConfig()
	cfg.InvoiceJobs.Cron = strings.TrimSpace(cfg.InvoiceJobs.Cron)
	cfg.SignatureJobs.Cron = strings.TrimSpace(cfg.SignatureJobs.Cron)
	if cfg.InvoiceJobs.Cron == "" {
		cfg.InvoiceJobs.Cron = defaults.InvoiceJobs.Cron
	}
	if cfg.SignatureJobs.Cron == "" {
		cfg.SignatureJobs.Cron = defaults.SignatureJobs.Cron
	}
	if cfg.Jobs == nil {
		cfg.Jobs = map[string]JobToggle{}
	}
	return cfg
}

func validateSchedule(cfg ScheduleConfig) error {
	for name, toggle := range cfg.Jobs {
		if toggle.Timeout < 0 {
			return fmt.Errorf("jobs.%s.timeout cannot be negative", name)
		}
	}
	return nil
}
