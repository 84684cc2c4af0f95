package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/control"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			colorize := !asJSON && shouldColorize(out)
			client, err := ctx.dialClient()
			if err != nil {
				if asJSON {
					return writeJSON(cmd, control.StatusResponse{})
				}
				fmt.Fprintln(out, renderStatusLine("Agent", statusError, "Not running", colorize))
				return nil
			}
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			for _, line := range statusLines(status, colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func statusLines(status *control.StatusResponse, colorize bool) []string {
	lines := renderSectionHeader("Agent", colorize)
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d, version %s", status.PID, status.Version)
		if !status.StartedAt.IsZero() {
			detail += ", up " + time.Since(status.StartedAt).Truncate(time.Second).String()
		}
		lines = append(lines, renderStatusLine("Agent", statusOK, detail+")", colorize))
	} else {
		lines = append(lines, renderStatusLine("Agent", statusWarn, "Stopped", colorize))
	}
	if status.HubConnected {
		lines = append(lines, renderStatusLine("Hub", statusOK, "Connected to "+status.HubURI, colorize))
	} else {
		lines = append(lines, renderStatusLine("Hub", statusWarn, "Disconnected from "+status.HubURI, colorize))
	}
	lines = append(lines,
		renderStatusLine("Companions", statusInfo, strconv.Itoa(status.Companions), colorize),
		renderStatusLine("Terminals", statusInfo, strconv.Itoa(status.Terminals), colorize),
		renderInfoLine("Instance", valueOr(status.InstanceID, "(default)")),
		renderInfoLine("Device ID", valueOr(status.DeviceID, "(unassigned)")),
	)
	lines = append(lines, renderSectionHeader("Paths", colorize)...)
	lines = append(lines,
		renderInfoLine("Companion socket", status.SocketPath),
		renderInfoLine("Control socket", status.ControlSocketPath),
		renderInfoLine("Daemon lock", status.LockPath),
		renderInfoLine("Failure reports", status.FailuresDBPath),
	)
	return lines
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List connected companion sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *control.Client) error {
				resp, err := client.Sessions()
				if err != nil {
					return fmt.Errorf("sessions: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, resp.Sessions)
				}
				rows := make([][]string, 0, len(resp.Sessions))
				for _, s := range resp.Sessions {
					rows = append(rows, []string{
						strconv.Itoa(s.PID),
						formatTime(s.ConnectedAt),
						yesNo(s.Connected),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"PID", "Connected At", "Channel Up"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newTerminalsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "terminals",
		Short: "List live terminal sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *control.Client) error {
				resp, err := client.Terminals()
				if err != nil {
					return fmt.Errorf("terminals: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, resp.Terminals)
				}
				rows := make([][]string, 0, len(resp.Terminals))
				for _, term := range resp.Terminals {
					rows = append(rows, []string{
						term.ID,
						term.ViewerID,
						term.Kind,
						formatTime(term.CreatedAt),
						formatTime(term.LastAccess),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Viewer", "Kind", "Created", "Last Access"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newFailuresCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON    bool
		component string
		since     time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List recorded authentication and command failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *control.Client) error {
				resp, err := client.Failures(control.FailuresRequest{
					Component:    component,
					SinceSeconds: int(since / time.Second),
					Limit:        limit,
				})
				if err != nil {
					return fmt.Errorf("failures: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, resp.Failures)
				}
				rows := make([][]string, 0, len(resp.Failures))
				for _, f := range resp.Failures {
					pid := ""
					if f.PID > 0 {
						pid = strconv.Itoa(f.PID)
					}
					rows = append(rows, []string{
						strconv.FormatInt(f.ID, 10),
						formatTime(f.OccurredAt),
						f.Component,
						f.Operation,
						f.Code,
						pid,
						f.Reason,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "When", "Component", "Operation", "Code", "PID", "Reason"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&component, "component", "", "Only show failures from this component (auth, router)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show failures newer than this duration (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of failures to show")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
