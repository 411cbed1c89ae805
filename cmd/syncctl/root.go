package main

import (
	"errors"

	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitPartialSync = 3
)

// errPartial marks a migration that finished with failed entities or DLQ'd records.
var errPartial = errors.New("migration finished with failures")

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Migrate a Magento store into Medusa",
		Long: `syncctl extracts categories, products, customers, addresses and orders from a
Magento store, maps and validates them, and upserts them into a Medusa store.

Progress is checkpointed per entity so an interrupted run resumes where it
stopped. Records that cannot be migrated land in a dead letter queue that can
be inspected, exported and retried.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to syncctl.toml (default: search ., ./configs, ~/.config/commerce-sync)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before environment overrides")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newDLQCmd(opts),
		newCheckpointCmd(opts),
		newStatusCmd(opts),
		newReportCmd(opts),
		newTestCmd(opts),
		newConfigCmd(opts),
		newDBCmd(opts),
		newServeCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// loadConfig applies the global flags on top of Load
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: o.configFile, DotenvPath: o.envFile})
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) jsonOutput() bool {
	return o.output == "json"
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, errPartial):
		return exitPartialSync
	default:
		return exitFailure
	}
}
