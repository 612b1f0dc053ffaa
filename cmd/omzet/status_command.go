package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"omzet/internal/config"
	"omzet/internal/daemonctl"
	"omzet/internal/daemonrun"
	"omzet/internal/deps"
	"omzet/internal/ledger"
	"omzet/internal/preflight"
	"omzet/internal/scratch"
)

type statusView struct {
	ConfigPath   string            `json:"config_path"`
	ConfigExists bool              `json:"config_exists"`
	Libraries    int               `json:"libraries"`
	Watching     bool              `json:"watching"`
	WatchPID     int               `json:"watch_pid,omitempty"`
	Ledger       map[string]int    `json:"ledger"`
	Dependencies []dependencyView  `json:"dependencies"`
	FreeBytes    map[string]uint64 `json:"scratch_free_bytes"`
	Paths        []pathView        `json:"paths"`
}

type pathView struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

type dependencyView struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, dependency, and ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				view := statusView{
					ConfigPath:   ctx.configPath,
					ConfigExists: ctx.configExists,
					Libraries:    len(cfg.Libraries),
					Ledger:       map[string]int{"total": stats.Total()},
					FreeBytes:    map[string]uint64{},
				}
				for status, n := range stats {
					view.Ledger[string(status)] = n
				}
				view.Watching, _ = daemonctl.Running(cfg)
				if view.Watching {
					view.WatchPID, _ = daemonrun.ReadPID(cfg)
				}
				statuses := deps.CheckBinaries(deps.Requirements(cfg))
				for _, s := range statuses {
					view.Dependencies = append(view.Dependencies, dependencyView{
						Name: s.Name, Command: s.Command, Optional: s.Optional, Available: s.Available, Detail: s.Detail,
					})
				}
				for _, dir := range scratchpads(cfg) {
					if free, err := scratch.FreeBytes(dir); err == nil {
						view.FreeBytes[dir] = free
					}
				}

				checks := preflight.RunAll(cfg)
				for _, c := range checks {
					view.Paths = append(view.Paths, pathView{Name: c.Name, Passed: c.Passed, Detail: c.Detail})
				}

				if ctx.JSONMode() {
					return writeJSON(cmd, view)
				}
				printStatus(cmd, cfg, view, statuses)
				return nil
			})
		},
	}
}

func printStatus(cmd *cobra.Command, cfg *config.Config, view statusView, statuses []deps.Status) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var lines []string

	lines = append(lines, renderSectionHeader("Omzet", colorize)...)
	configKind, configMsg := statusOK, view.ConfigPath
	if !view.ConfigExists {
		configKind, configMsg = statusWarn, view.ConfigPath+" (missing; run `omzet config init`)"
	}
	lines = append(lines, renderStatusLine("Config", configKind, configMsg, colorize))
	libKind := statusOK
	if view.Libraries == 0 {
		libKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Libraries", libKind, fmt.Sprintf("%d configured", view.Libraries), colorize))
	watchMsg := "not running"
	if view.Watching {
		watchMsg = fmt.Sprintf("running (pid %d)", view.WatchPID)
	}
	lines = append(lines, renderStatusLine("Watch", statusInfo, watchMsg, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Ledger", colorize)...)
	lines = append(lines, renderStatusLine("Entries", statusInfo, fmt.Sprintf("%d complete, %d failed, %d running",
		view.Ledger[string(ledger.StatusComplete)], view.Ledger[string(ledger.StatusFailed)], view.Ledger[string(ledger.StatusRunning)]), colorize))
	lines = append(lines, renderStatusLine("Database", statusInfo, cfg.LedgerPath(), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Paths", colorize)...)
	for _, p := range view.Paths {
		kind := statusOK
		if !p.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(p.Name, kind, p.Detail, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, s := range statuses {
		kind := statusOK
		msg := s.Path
		switch {
		case !s.Available && s.Optional:
			kind, msg = statusWarn, s.Detail+" (optional)"
		case !s.Available:
			kind, msg = statusError, s.Detail
		}
		lines = append(lines, renderStatusLine(s.Name, kind, msg, colorize))
	}

	if len(view.FreeBytes) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Scratch", colorize)...)
		threshold := uint64(cfg.Engine.MinFreeMiB) << 20
		for _, dir := range scratchpads(cfg) {
			free, ok := view.FreeBytes[dir]
			if !ok {
				continue
			}
			kind := statusOK
			if free < threshold {
				kind = statusWarn
			}
			lines = append(lines, renderStatusLine(filepath.Base(dir), kind, formatBytes(int64(free))+" free", colorize))
		}
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}
