package main

import (
	"github.com/smallbiznis/crmjobs/internal/migration"
	"github.com/smallbiznis/crmjobs/internal/scheduler"
	"github.com/smallbiznis/crmjobs/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cron trigger together with the admin HTTP server",
	Long: `serve applies pending migrations, starts the cron trigger and exposes
/health, /metrics and the admin trigger endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			migration.Module,
			jobModules(),
			server.Module,
			fx.Invoke(scheduler.StartTrigger),
		)
		app.Run()
		return app.Err()
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the cron trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			jobModules(),
			fx.Invoke(scheduler.StartTrigger),
		)
		app.Run()
		return app.Err()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}
