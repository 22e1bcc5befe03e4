package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/crmjobs/internal/audit"
	"github.com/smallbiznis/crmjobs/internal/authorization"
	"github.com/smallbiznis/crmjobs/internal/clock"
	"github.com/smallbiznis/crmjobs/internal/config"
	"github.com/smallbiznis/crmjobs/internal/distlock"
	"github.com/smallbiznis/crmjobs/internal/estimate"
	"github.com/smallbiznis/crmjobs/internal/invoice"
	"github.com/smallbiznis/crmjobs/internal/observability"
	"github.com/smallbiznis/crmjobs/internal/providers"
	"github.com/smallbiznis/crmjobs/internal/scheduler"
	"github.com/smallbiznis/crmjobs/internal/signature"
	"github.com/smallbiznis/crmjobs/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "crmjobs",
	Short: "Recurring maintenance jobs for the CRM",
	Long: `crmjobs runs the CRM's scheduled maintenance: overdue invoice detection,
recurring invoice generation, estimate expiry and signature reminders.

Configuration is read from the environment (and a .env file when present).
Cron expressions and per-job switches live in schedule.yml and are reloaded on change.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)
}

// jobModules wires the scheduler and every service its jobs call.
func jobModules() fx.Option {
	return fx.Options(
		authorization.Module,
		audit.Module,
		providers.Module,
		distlock.Module,
		invoice.Module,
		estimate.Module,
		signature.Module,
		scheduler.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
