package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/logging"
	"tether/internal/mutationlock"
)

func newLockCommand(ctx *commandContext) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Installation mutation lock utilities",
	}
	lockCmd.AddCommand(newLockTestCommand(ctx))
	return lockCmd
}

func newLockTestCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	var hold time.Duration
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Try to acquire the mutation lock within a bounded wait",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock := mutationlock.NewFromConfig(cfg, logging.NewNop())
			out := cmd.OutOrStdout()

			started := time.Now()
			token, ok := lock.TryAcquire(cmd.Context(), timeout)
			if !ok {
				return fmt.Errorf("lock %s is busy (waited %s)", lock.Name(), timeout)
			}
			defer token.Release()
			fmt.Fprintf(out, "Acquired %s in %s\n", lock.Name(), time.Since(started).Truncate(time.Millisecond))

			if hold > 0 {
				fmt.Fprintf(out, "Holding for %s\n", hold)
				select {
				case <-time.After(hold):
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
			fmt.Fprintln(out, "Released")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Maximum time to wait for the lock")
	cmd.Flags().DurationVar(&hold, "hold", 0, "Keep the lock held for this long before releasing")
	return cmd
}
