package main

import (
	"fmt"
	"os"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate, validate and show configuration",
	}
	cmd.AddCommand(newConfigGenerateCmd(), newConfigValidateCmd(root), newConfigShowCmd(root))
	return cmd
}

func newConfigGenerateCmd() *cobra.Command {
	var (
		path       string
		force      bool
		mappingFor string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a configuration file, or a mapping document, with every default filled in",
		Example: `  syncctl config generate --file configs/syncctl.toml
  syncctl config generate > syncctl.toml
  syncctl config generate --mapping product --file mappings/product.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mappingFor != "" {
				return generateMapping(cmd, mappingFor, path, force)
			}
			if path == "" {
				return config.WriteTemplate(cmd.OutOrStdout(), config.Default())
			}
			if err := config.GenerateTemplate(path, force); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "Write to this path instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&mappingFor, "mapping", "", "Emit the built-in mapping document of this entity instead of the configuration")
	return cmd
}

// generateMapping copies a built-in mapping document so it can be edited and
// picked up through sync.mapping_dir.
func generateMapping(cmd *cobra.Command, name, path string, force bool) error {
	entity, err := integration.ParseEntityType(name)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	doc, err := mapping.DefaultSpecDocument(entity)
	if err != nil {
		return err
	}
	if path == "" {
		_, err := cmd.OutOrStdout().Write(doc)
		return err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	successColor.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s mapping to %s\n", entity, path)
	return nil
}

func newConfigValidateCmd(root *rootOptions) *cobra.Command {
	var migration bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and mapping documents and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if migration {
				if err := cfg.ValidateForMigration(cfg.Sync.DryRun); err != nil {
					return err
				}
			}
			a := &app{cfg: cfg}
			catalog, err := a.catalog()
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalid, err)
			}
			successColor.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			fmt.Fprintf(cmd.OutOrStdout(), "  source %s, storage %s, %d entity mappings\n",
				cfg.Source.Driver, cfg.Storage.Backend, len(catalog.Entities()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&migration, "migration", false, "Also check the settings a non-dry-run migration needs")
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration; secrets are only reported as set or unset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := config.WriteTemplate(out, cfg); err != nil {
				return err
			}
			secrets := []struct {
				key   string
				value string
			}{
				{"source.token", cfg.Source.Token},
				{"target.token", cfg.Target.Token},
				{"database.password", cfg.Database.Password},
				{"redis.password", cfg.Redis.Password},
				{"media.secret_access_key", cfg.Media.SecretAccessKey},
				{"admin.jwt_secret", cfg.Admin.JWTSecret},
			}
			fmt.Fprintln(out)
			for _, s := range secrets {
				state := "unset"
				if s.value != "" {
					state = "set"
				}
				fmt.Fprintf(out, "# %s is %s\n", s.key, state)
			}
			return nil
		},
	}
}
