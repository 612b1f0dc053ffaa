package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"omzet/internal/config"
	"omzet/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the completion ledger",
	}

	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerStatsCommand(ctx))
	ledgerCmd.AddCommand(newLedgerShowCommand(ctx))
	ledgerCmd.AddCommand(newLedgerForgetCommand(ctx))
	ledgerCmd.AddCommand(newLedgerClearCommand(ctx))

	return ledgerCmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var library string
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ledger.Filter{Library: library, Limit: limit}
			for _, raw := range statuses {
				status, ok := ledger.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q (expected running, failed, or complete)", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			return ctx.withLedger(func(_ *config.Config, store *ledger.Store) error {
				entries, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					views := make([]entryView, 0, len(entries))
					for _, entry := range entries {
						views = append(views, newEntryView(entry, nil))
					}
					return writeJSON(cmd, views)
				}

				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Ledger is empty")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						entry.Library,
						entry.Path,
						paint(string(entry.Status), statusKindColor(entryKind(entry.Status)), colorize),
						formatAge(entry.UpdatedAt),
						orDash(entry.Error),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Library", "Path", "Status", "Updated", "Error"},
					rows, nil, colorize,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "Only list entries of this library")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries")
	return cmd
}

func newLedgerStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count ledger entries by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{
						"ledger":   store.Path(),
						"total":    stats.Total(),
						"complete": stats[ledger.StatusComplete],
						"failed":   stats[ledger.StatusFailed],
						"running":  stats[ledger.StatusRunning],
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Ledger: %s\n\n", store.Path())
				rows := [][]string{
					{string(ledger.StatusComplete), strconv.Itoa(stats[ledger.StatusComplete])},
					{string(ledger.StatusFailed), strconv.Itoa(stats[ledger.StatusFailed])},
					{string(ledger.StatusRunning), strconv.Itoa(stats[ledger.StatusRunning])},
					{"total", strconv.Itoa(stats.Total())},
				}
				fmt.Fprint(out, renderTable([]string{"Status", "Files"}, rows,
					[]columnAlignment{alignLeft, alignRight}, shouldColorize(out)))
				return nil
			})
		},
	}
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	var library string

	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Show the ledger entry and task history of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				key, err := resolveKey(cfg, library, args[0])
				if err != nil {
					return err
				}
				entry, err := store.Get(cmd.Context(), key)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("no ledger entry for %s", key.Path)
				}
				tasks, err := store.Tasks(cmd.Context(), key)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, newEntryView(*entry, tasks))
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Library:     %s\n", entry.Library)
				fmt.Fprintf(out, "Path:        %s\n", entry.Path)
				fmt.Fprintf(out, "Status:      %s\n", paint(string(entry.Status), statusKindColor(entryKind(entry.Status)), colorize))
				fmt.Fprintf(out, "Workflow:    %s\n", orDash(entry.Workflow))
				fmt.Fprintf(out, "Fingerprint: %s\n", orDash(entry.Fingerprint))
				fmt.Fprintf(out, "Updated:     %s\n", formatAge(entry.UpdatedAt))
				if entry.Error != "" {
					fmt.Fprintf(out, "Error:       %s\n", entry.Error)
				}
				if len(tasks) == 0 {
					return nil
				}
				fmt.Fprintln(out)
				rows := make([][]string, 0, len(tasks))
				for _, rec := range tasks {
					exit := "-"
					if rec.ExitCode >= 0 {
						exit = strconv.Itoa(rec.ExitCode)
					}
					rows = append(rows, []string{
						strconv.Itoa(rec.Index + 1),
						rec.TaskID,
						string(rec.Outcome),
						exit,
						formatDuration(rec.Duration),
						orDash(rec.Message),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"#", "Task", "Outcome", "Exit", "Duration", "Message"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					colorize,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "Library the file belongs to")
	return cmd
}

func newLedgerForgetCommand(ctx *commandContext) *cobra.Command {
	var library string

	cmd := &cobra.Command{
		Use:   "forget <file>...",
		Short: "Remove files from the ledger so the next run reprocesses them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				out := cmd.OutOrStdout()
				forgotten := 0
				for _, arg := range args {
					key, err := resolveKey(cfg, library, arg)
					if err != nil {
						return err
					}
					removed, err := store.Forget(cmd.Context(), key)
					if err != nil {
						return err
					}
					if removed {
						forgotten++
						if !ctx.JSONMode() {
							fmt.Fprintf(out, "Forgot %s\n", key.Path)
						}
					} else if !ctx.JSONMode() {
						fmt.Fprintf(out, "Not in ledger: %s\n", key.Path)
					}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"forgotten": forgotten})
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "Library the files belong to")
	return cmd
}

func newLedgerClearCommand(ctx *commandContext) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove ledger entries",
		Long: `Remove every ledger entry, or with --failed only failed ones. Cleared files are
processed again on the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(_ *config.Config, store *ledger.Store) error {
				var removed int64
				var err error
				if failedOnly {
					removed, err = store.ClearFailed(cmd.Context())
				} else {
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"removed": removed})
				}
				scope := "ledger entries"
				if failedOnly {
					scope = "failed ledger entries"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", removed, scope)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only remove failed entries")
	return cmd
}

func entryKind(status ledger.Status) statusKind {
	switch status {
	case ledger.StatusComplete:
		return statusOK
	case ledger.StatusFailed:
		return statusError
	case ledger.StatusRunning:
		return statusWarn
	}
	return statusInfo
}

