package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/daemonctl"
	"tether/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the tether agent in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging (source locations)")
	return cmd
}

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 10 * time.Second
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tether agent in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return startAgent(cmd, ctx, logLevel)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the launched agent")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background tether agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stopAgent(cmd, ctx, false)
		},
	}
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the tether agent if running, then start it again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := stopAgent(cmd, ctx, true); err != nil {
				return err
			}
			return startAgent(cmd, ctx, logLevel)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the launched agent")
	return cmd
}

func startAgent(cmd *cobra.Command, ctx *commandContext, logLevel string) error {
	socket, err := ctx.socketPath()
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	result, err := daemonctl.EnsureStarted(socket, exe, daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   logLevel,
	}, startWaitTimeout)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if result.AlreadyRunning {
		fmt.Fprintf(out, "Agent already running (pid %d)\n", result.PID)
		return nil
	}
	fmt.Fprintf(out, "Agent started (pid %d)\n", result.PID)
	return nil
}

func stopAgent(cmd *cobra.Command, ctx *commandContext, allowStopped bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	socket, err := ctx.socketPath()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	result, err := daemonctl.Stop(socket, cfg.PIDPath(), stopGracePeriod)
	if errors.Is(err, daemonctl.ErrNotRunning) {
		if !allowStopped {
			fmt.Fprintln(out, "Agent is not running")
		}
		return nil
	}
	if err != nil {
		return err
	}
	if result.Forced {
		fmt.Fprintf(out, "Agent killed after %s (pid %d)\n", stopGracePeriod, result.PID)
		return nil
	}
	fmt.Fprintf(out, "Agent stopped (pid %d)\n", result.PID)
	return nil
}
