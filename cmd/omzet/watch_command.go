package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"omzet/internal/daemonctl"
	"omzet/internal/daemonrun"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var development bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process libraries repeatedly on engine.scan_interval",
		Long: `Run every library now and again after each scan interval until interrupted.
Only one watch process may use a state directory at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg, development)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Logger:      logger,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	cmd.AddCommand(newWatchStopCommand(ctx))
	return cmd
}

func newWatchStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running watch process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.Stop(cfg, grace)
			if errors.Is(err, daemonctl.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Watch process is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(cmd.OutOrStdout(), "Watch process %d killed after %s\n", result.PID, grace)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watch process %d stopped\n", result.PID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", daemonctl.DefaultGracePeriod, "Time to wait after SIGTERM before SIGKILL")
	return cmd
}
