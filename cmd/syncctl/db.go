package main

import (
	"fmt"
	"strconv"

	"github.com/erp/commerce-sync/internal/infrastructure/migration"
	"github.com/spf13/cobra"
)

func newDBCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the schema of the postgres state backend",
	}
	cmd.AddCommand(newDBMigrateCmd(root), newDBStatusCmd(root))
	return cmd
}

// withMigrator runs fn with a migrator and a logger but without opening the
// other state stores
func withMigrator(cmd *cobra.Command, root *rootOptions, fn func(*migration.Migrator) error) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	a := &app{cfg: cfg}
	if err := a.initLogger(cmd.Context()); err != nil {
		return err
	}
	defer a.Close()

	m, err := a.migrator()
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func newDBMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, root, (*migration.Migrator).Up)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, root, (*migration.Migrator).Down)
			},
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations, or roll back -n",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				return withMigrator(cmd, root, func(m *migration.Migrator) error { return m.Steps(n) })
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(cmd, root, func(m *migration.Migrator) error { return m.Force(v) })
			},
		},
	)
	return cmd
}

func newDBStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version and the embedded migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			available, err := migration.ListMigrations()
			if err != nil {
				return err
			}
			return withMigrator(cmd, root, func(m *migration.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if root.jsonOutput() {
					return printJSON(out, map[string]any{
						"version":    version,
						"dirty":      dirty,
						"migrations": available,
					})
				}

				t := newTable("VERSION", "NAME", "APPLIED")
				for _, mig := range available {
					applied := "no"
					if mig.Version <= version {
						applied = "yes"
					}
					t.Row(strconv.FormatUint(uint64(mig.Version), 10), mig.Name, applied)
				}
				fmt.Fprintln(out, t.Render())
				if dirty {
					warnColor.Fprintf(out, "! Schema version %d is dirty; fix it and run db migrate force\n", version)
					return nil
				}
				fmt.Fprintf(out, "Schema version %d\n", version)
				return nil
			})
		},
	}
}
