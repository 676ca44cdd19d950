package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/taskauth/internal/stores/migrations"
	"github.com/MrEthical07/taskauth/internal/stores/pgstore"
	"github.com/MrEthical07/taskauth/internal/stores/sqlstore"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential database schema",
		Long:  "Apply or inspect the embedded schema migrations. SQLite databases are also migrated when opened.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd)
		},
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Database.Driver == "postgres" {
		applied, err := pgstore.Migrate(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		}
		for _, v := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %05d\n", v)
		}
		return nil
	}

	s, err := sqlstore.Open(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "SQLite database %s is up to date.\n", cfg.Database.Path)
	return nil
}

func runMigrateStatus(cmd *cobra.Command) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var states []migrations.State
	if cfg.Database.Driver == "postgres" {
		states, err = pgstore.MigrationStatus(ctx, cfg.Database.DSN)
	} else {
		var s *sqlstore.Store
		s, err = sqlstore.Open(ctx, cfg.Database.Path)
		if err == nil {
			defer s.Close()
			states, err = migrations.Status(ctx, s.DB().DB, migrations.SQLite)
		}
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
	for _, st := range states {
		state := "pending"
		if st.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%05d\t%s\t%s\n", st.Version, state, st.Path)
	}
	return w.Flush()
}
