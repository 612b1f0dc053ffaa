package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"omzet/internal/config"
	"omzet/internal/engine"
	"omzet/internal/logging"
	"omzet/internal/scratch"
)

func newScratchCommand(ctx *commandContext) *cobra.Command {
	scratchCmd := &cobra.Command{
		Use:   "scratch",
		Short: "Manage scratchpad workspaces",
	}

	scratchCmd.AddCommand(newScratchListCommand(ctx))
	scratchCmd.AddCommand(newScratchCleanCommand(ctx))

	return scratchCmd
}

// scratchpads returns the distinct configured scratchpad directories.
func scratchpads(cfg *config.Config) []string {
	seen := make(map[string]struct{})
	var dirs []string
	for _, wf := range cfg.Workflows {
		if _, ok := seen[wf.ScratchpadDirectory]; ok || wf.ScratchpadDirectory == "" {
			continue
		}
		seen[wf.ScratchpadDirectory] = struct{}{}
		dirs = append(dirs, wf.ScratchpadDirectory)
	}
	sort.Strings(dirs)
	return dirs
}

type workspaceView struct {
	Scratchpad string    `json:"scratchpad"`
	JobID      string    `json:"job_id"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModTime    time.Time `json:"modified"`
}

func newScratchListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspaces left in scratchpad directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			views := []workspaceView{}
			var total int64
			for _, dir := range scratchpads(cfg) {
				dirs, err := scratch.ListWorkspaces(dir)
				if err != nil {
					return fmt.Errorf("list workspaces in %s: %w", dir, err)
				}
				for _, info := range dirs {
					total += info.Size
					views = append(views, workspaceView{
						Scratchpad: dir,
						JobID:      info.JobID,
						Path:       info.Path,
						SizeBytes:  info.Size,
						ModTime:    info.ModTime,
					})
				}
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"workspaces":       views,
					"total_size_bytes": total,
				})
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No workspaces found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{v.Scratchpad, v.JobID, formatAge(v.ModTime), formatBytes(v.SizeBytes)})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Scratchpad", "Job", "Age", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				shouldColorize(out),
			))
			fmt.Fprintf(out, "Total: %d workspaces, %s\n", len(views), formatBytes(total))
			return nil
		},
	}
}

func newScratchCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove orphaned workspaces",
		Long: `Remove workspaces older than engine.orphan_max_age. Workspaces only outlive
their job when omzet was killed.

Use --all to remove every workspace regardless of age. --all refuses to run
while a run or watch process is active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg, false)
			if err != nil {
				return err
			}

			maxAge := time.Duration(cfg.Engine.OrphanMaxAge) * time.Second
			if cleanAll {
				// Engines hold run.lock shared while running; exclusive means idle.
				runLock := flock.New(filepath.Join(cfg.Paths.StateDir, engine.RunLockName))
				locked, err := runLock.TryLock()
				if err != nil {
					return fmt.Errorf("probe run lock: %w", err)
				}
				if !locked {
					return fmt.Errorf("an omzet run is active; refusing to remove in-use workspaces")
				}
				defer runLock.Unlock()
				maxAge = 0
			}

			var removed []string
			var errs []string
			for _, dir := range scratchpads(cfg) {
				res := scratch.CleanOrphans(cmd.Context(), dir, maxAge, nil, logging.NewComponentLogger(logger, "scratch"))
				removed = append(removed, res.Removed...)
				for _, e := range res.Errors {
					errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
				}
			}

			if ctx.JSONMode() {
				if errs == nil {
					errs = []string{}
				}
				return writeJSON(cmd, map[string]any{"removed": len(removed), "errors": errs})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d workspace(s)\n", len(removed))
			for _, e := range errs {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d workspace(s) could not be removed", len(errs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all workspaces regardless of age")
	return cmd
}
