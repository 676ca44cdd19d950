package cli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/security"
)

func newSecurityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Inspect and manage the request security pipeline",
		Long:  "Block or unblock client addresses, show blocked and suspicious addresses, and sweep stale block entries.",
	}

	cmd.AddCommand(newSecurityBlockCmd())
	cmd.AddCommand(newSecurityUnblockCmd())
	cmd.AddCommand(newSecurityStatusCmd())
	cmd.AddCommand(newSecuritySweepCmd())

	return cmd
}

func withShield(cmd *cobra.Command, fn func(ctx context.Context, shield *security.Shield) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	shield, err := rt.shield(taskauth.NewZapSink(rt.logger.Named("audit")))
	if err != nil {
		return err
	}
	return fn(ctx, shield)
}

func newSecurityBlockCmd() *cobra.Command {
	var (
		reason   string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "block <ip>",
		Short: "Block a client address",
		Example: `  taskauthd security block 203.0.113.7 --reason "credential stuffing" --duration 24h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if net.ParseIP(args[0]) == nil {
				return fmt.Errorf("%q is not an IP address", args[0])
			}
			return withShield(cmd, func(ctx context.Context, shield *security.Shield) error {
				b, err := shield.Block(ctx, args[0], reason, duration)
				if err != nil {
					return fmt.Errorf("block %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Blocked %s until %s (%s)\n", b.IP, b.Until.UTC().Format(time.RFC3339), b.Reason)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "Manual block", "Reason recorded with the block")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Block duration (default from configuration)")

	return cmd
}

func newSecurityUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Lift a block on a client address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShield(cmd, func(ctx context.Context, shield *security.Shield) error {
				if err := shield.Unblock(ctx, args[0]); err != nil {
					return fmt.Errorf("unblock %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unblocked %s\n", args[0])
				return nil
			})
		},
	}
}

func newSecurityStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show blocked and suspicious addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShield(cmd, func(ctx context.Context, shield *security.Shield) error {
				st, err := shield.Status(ctx)
				if err != nil {
					return fmt.Errorf("security status: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return writeJSON(out, st)
				}

				fmt.Fprintf(out, "Rules version:   %s\n", st.RulesVersion)
				fmt.Fprintf(out, "Blocked:         %d\n", st.TotalBlocked)
				fmt.Fprintf(out, "Suspicious:      %d\n", st.TotalSuspicious)
				if len(st.BlockedIPs) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintf(out, "%-40s %-22s %s\n", "IP", "UNTIL", "REASON")
					for _, b := range st.BlockedIPs {
						fmt.Fprintf(out, "%-40s %-22s %s\n", b.IP, b.Until.UTC().Format(time.RFC3339), b.Reason)
					}
				}
				if len(st.SuspiciousIPs) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Suspicious addresses:")
					for _, ip := range st.SuspiciousIPs {
						fmt.Fprintf(out, "  %s\n", ip)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newSecuritySweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries from the block list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withShield(cmd, func(ctx context.Context, shield *security.Shield) error {
				n, err := shield.Sweep(ctx)
				if err != nil {
					return fmt.Errorf("sweep block list: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale block entries\n", n)
				return nil
			})
		},
	}
}
