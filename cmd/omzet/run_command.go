package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"omzet/internal/engine"
	"omzet/internal/ledger"
	"omzet/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var library string
	var showAll bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every library once",
		Long: `Scan the configured libraries and run each new or changed file through its
workflow. Files the ledger records as complete are skipped. The command exits
non-zero when any file failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg, false)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			eng, err := engine.NewFromConfig(cfg, store, logger)
			if err != nil {
				return err
			}
			if err := eng.Validate(); err != nil {
				return err
			}

			var report engine.Report
			var runErr error
			if library != "" {
				report, runErr = eng.RunLibrary(runCtx, library)
			} else {
				report, runErr = eng.RunAll(runCtx)
			}

			if ctx.JSONMode() {
				if err := writeJSON(cmd, newReportView(report)); err != nil {
					return err
				}
			} else {
				printReport(cmd, report, showAll)
			}

			if runErr != nil {
				if runCtx.Err() != nil {
					return context.Canceled
				}
				return runErr
			}
			if report.HasFailures() {
				return fmt.Errorf("%d file(s) failed", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "Only process the named library")
	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Also list files that were already complete")
	return cmd
}

func printReport(cmd *cobra.Command, report engine.Report, showAll bool) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		if !showAll && res.Outcome == pipeline.OutcomeAlreadyComplete {
			continue
		}
		exit := "-"
		if res.ExitCode >= 0 && res.FailedTask != "" {
			exit = strconv.Itoa(res.ExitCode)
		}
		rows = append(rows, []string{
			res.Library,
			filepath.Base(res.Path),
			paint(string(res.Outcome), statusKindColor(outcomeKind(res.Outcome)), colorize),
			orDash(res.FailedTask),
			exit,
			formatDuration(res.Duration),
		})
	}
	if len(rows) > 0 {
		fmt.Fprint(out, renderTable(
			[]string{"Library", "File", "Outcome", "Failed Task", "Exit", "Duration"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			colorize,
		))
	}
	fmt.Fprintf(out, "%d completed, %d skipped, %d failed, %d already complete, %d busy",
		report.Completed, report.Skipped, report.Failed, report.AlreadyComplete, report.Busy)
	if report.Interrupted > 0 {
		fmt.Fprintf(out, ", %d interrupted", report.Interrupted)
	}
	if report.ScanErrors > 0 {
		fmt.Fprintf(out, ", %d scan errors", report.ScanErrors)
	}
	fmt.Fprintf(out, " (%s)\n", formatDuration(report.Duration))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
