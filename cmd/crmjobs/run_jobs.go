package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/crmjobs/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const groupAll = "all"

var runJobsCmd = &cobra.Command{
	Use:   "run-jobs",
	Short: "Run a job group once and print the result",
	Example: `  # Run overdue detection, recurring invoices and estimate expiry
  crmjobs run-jobs --group invoices

  # Run every group
  crmjobs run-jobs --group all`,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(runJobsCmd)

	runJobsCmd.Flags().String("group", scheduler.GroupInvoices, "Job group to run: invoices, signatures or all")
	runJobsCmd.Flags().Duration("start-timeout", 30*time.Second, "Time allowed for dependencies to start")
}

func runJobs(cmd *cobra.Command, args []string) error {
	group, _ := cmd.Flags().GetString("group")
	startTimeout, _ := cmd.Flags().GetDuration("start-timeout")

	var groups []string
	switch group {
	case scheduler.GroupInvoices, scheduler.GroupSignatures:
		groups = []string{group}
	case groupAll:
		groups = []string{scheduler.GroupInvoices, scheduler.GroupSignatures}
	default:
		return fmt.Errorf("unknown group %q", group)
	}

	var sched *scheduler.Scheduler
	app := fx.New(
		infrastructure(),
		jobModules(),
		fx.Populate(&sched),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	failed := false
	encoder := json.NewEncoder(cmd.OutOrStdout())
	for _, g := range groups {
		var result scheduler.TriggerResult
		switch g {
		case scheduler.GroupInvoices:
			result = sched.TriggerInvoiceJobs(ctx)
		case scheduler.GroupSignatures:
			result = sched.TriggerSignatureJobs(ctx)
		}
		if err := encoder.Encode(result); err != nil {
			return err
		}
		failed = failed || !result.Success
	}
	if failed {
		return fmt.Errorf("run-jobs: one or more groups failed")
	}
	return nil
}
