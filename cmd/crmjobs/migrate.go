package main

import (
	"context"
	"time"

	"github.com/smallbiznis/crmjobs/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		var log *zap.Logger
		app := fx.New(
			infrastructure(),
			migration.Module,
			fx.Populate(&log),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := app.Start(ctx); err != nil {
			return err
		}
		log.Info("migrations applied")
		return app.Stop(ctx)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
