package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/apikey"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apikey",
		Aliases: []string{"key"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke and expire the API keys that service callers present in x-api-key.",
	}

	cmd.AddCommand(newAPIKeyCreateCmd())
	cmd.AddCommand(newAPIKeyListCmd())
	cmd.AddCommand(newAPIKeyRevokeCmd())
	cmd.AddCommand(newAPIKeySweepCmd())

	return cmd
}

// withKeys opens the store and an API key service for one command.
func withKeys(cmd *cobra.Command, fn func(ctx context.Context, svc *apikey.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.keys(taskauth.NewZapSink(rt.logger.Named("audit")))
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

// ---------- apikey create ----------

func newAPIKeyCreateCmd() *cobra.Command {
	var (
		name        string
		permissions []string
		rateLimit   int
		expiresIn   time.Duration
		allowedIPs  []string
		createdBy   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  taskauthd apikey create --name reporting --permission tasks:read
  taskauthd apikey create --name nightly-sync --permission "tasks:*" --rate-limit 5000 --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, svc *apikey.Service) error {
				req := apikey.GenerateRequest{
					Name:        name,
					Permissions: permissions,
					RateLimit:   rateLimit,
					AllowedIPs:  allowedIPs,
					CreatedBy:   createdBy,
				}
				if expiresIn > 0 {
					at := time.Now().Add(expiresIn).UTC()
					req.ExpiresAt = &at
				}
				created, err := svc.Generate(ctx, req)
				if err != nil {
					return fmt.Errorf("create api key: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "API Key created:")
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  Key:         %s\n", created.Raw)
				fmt.Fprintf(out, "  ID:          %s\n", created.ID)
				fmt.Fprintf(out, "  Prefix:      %s\n", created.Prefix)
				fmt.Fprintf(out, "  Permissions: %v\n", created.Permissions)
				fmt.Fprintf(out, "  Rate limit:  %d/hour\n", created.RateLimit)
				fmt.Fprintf(out, "  Expires:     %s\n", formatTime(created.ExpiresAt))
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringSliceVar(&permissions, "permission", []string{"tasks:read"}, "Permission granted to the key (repeatable)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per hour (default from configuration)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime of the key, e.g. 720h (default never)")
	cmd.Flags().StringSliceVar(&allowedIPs, "allowed-ip", nil, "Restrict the key to these addresses (repeatable)")
	cmd.Flags().StringVar(&createdBy, "created-by", "taskauthd", "Owner recorded on the key")
	cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- apikey list ----------

func newAPIKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, svc *apikey.Service) error {
				keys, err := svc.List(ctx, owner)
				if err != nil {
					return fmt.Errorf("list api keys: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return writeJSON(out, keys)
				}
				if len(keys) == 0 {
					fmt.Fprintln(out, "No API keys. Use 'taskauthd apikey create' to create one.")
					return nil
				}

				fmt.Fprintf(out, "%-36s %-16s %-20s %-8s %-10s %-20s\n", "ID", "PREFIX", "NAME", "ACTIVE", "USES", "LAST USED")
				fmt.Fprintf(out, "%-36s %-16s %-20s %-8s %-10s %-20s\n", "--", "------", "----", "------", "----", "---------")
				for _, k := range keys {
					active := "yes"
					if !k.Active {
						active = "no"
					}
					fmt.Fprintf(out, "%-36s %-16s %-20s %-8s %-10d %-20s\n",
						k.ID, k.Prefix, k.Name, active, k.UsageCount, formatTime(k.LastUsed))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only keys created by this owner")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- apikey revoke ----------

func newAPIKeyRevokeCmd() *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key. The record and its usage history are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, svc *apikey.Service) error {
				if err := svc.Revoke(ctx, args[0], by); err != nil {
					return fmt.Errorf("revoke api key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&by, "by", "taskauthd", "Who is recorded as revoking the key")

	return cmd
}

// ---------- apikey sweep ----------

func newAPIKeySweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate every expired API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeys(cmd, func(ctx context.Context, svc *apikey.Service) error {
				n, err := svc.SweepExpired(ctx)
				if err != nil {
					return fmt.Errorf("sweep api keys: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d expired API key(s)\n", n)
				return nil
			})
		},
	}
}
