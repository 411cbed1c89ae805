package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type migrateOptions struct {
	entities    []string
	dryRun      bool
	since       string
	delta       bool
	batchSize   int
	concurrency int
	showPlan    bool
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate entities from the source store to the target store",
		Long: `Migrate runs categories, products, customers, addresses and orders in
dependency order. Each entity resumes from its checkpoint. A failing entity is
reported and the remaining entities still run.

Interrupting with Ctrl-C stops after the batch in flight is committed.`,
		Example: `  # Migrate everything
  syncctl migrate

  # Preview products without writing to the target
  syncctl migrate --entity product --dry-run --show-plan

  # Only records changed since the last completed run
  syncctl migrate --delta

  # Only records changed since a date
  syncctl migrate --entity order --since 2024-05-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.entities, "entity", "e", nil, "Entities to migrate (repeatable or comma separated; default all)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Map and validate without writing to the target or saving checkpoints")
	f.StringVar(&opts.since, "since", "", "Only records updated at or after this time (RFC 3339 or YYYY-MM-DD)")
	f.BoolVar(&opts.delta, "delta", false, "Only records updated since the last completed run of each entity")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Override sync.batch_size")
	f.IntVar(&opts.concurrency, "concurrency", 0, "Override sync.concurrency")
	f.BoolVar(&opts.showPlan, "show-plan", false, "With --dry-run, list every planned create and update")
	return cmd
}

func runMigrate(cmd *cobra.Command, root *rootOptions, opts *migrateOptions) error {
	runOpts, entities, err := opts.resolve()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close()

	runOpts.DryRun = runOpts.DryRun || a.cfg.Sync.DryRun
	orch, err := a.orchestrator(runOpts.DryRun)
	if err != nil {
		return err
	}

	a.logger.Info("Starting migration",
		zap.Strings("entities", entityNames(entities)),
		zap.Bool("dry_run", runOpts.DryRun),
		zap.Bool("delta", runOpts.Delta),
		zap.String("storage", a.cfg.Storage.Backend),
	)
	report := orch.RunEntities(ctx, entities, runOpts)
	return printMigration(cmd, root, opts, report)
}

func printMigration(cmd *cobra.Command, root *rootOptions, opts *migrateOptions, report *pipeline.MigrationReport) error {
	out := cmd.OutOrStdout()
	if root.jsonOutput() {
		if err := printJSON(out, migrationJSON(report)); err != nil {
			return err
		}
	} else {
		renderMigration(out, report)
		if opts.showPlan {
			for _, r := range report.Results {
				renderPlanned(out, r.Planned)
			}
		}
	}
	if report.Failed() {
		return fmt.Errorf("%w: %w", errPartial, report.Err())
	}
	return nil
}

// resolve validates flags into run options and the entity list
func (o *migrateOptions) resolve() (pipeline.RunOptions, []integration.EntityType, error) {
	runOpts := pipeline.RunOptions{
		DryRun:      o.dryRun,
		Delta:       o.delta,
		BatchSize:   o.batchSize,
		Concurrency: o.concurrency,
	}
	if o.since != "" {
		since, err := parseSince(o.since)
		if err != nil {
			return runOpts, nil, err
		}
		runOpts.Since = &since
	}
	if o.showPlan && !o.dryRun {
		return runOpts, nil, fmt.Errorf("--show-plan requires --dry-run")
	}

	entities, err := parseEntities(o.entities)
	if err != nil {
		return runOpts, nil, err
	}
	return runOpts, entities, nil
}

func parseEntities(names []string) ([]integration.EntityType, error) {
	if len(names) == 0 {
		return integration.DependencyOrder(), nil
	}
	out := make([]integration.EntityType, 0, len(names))
	for _, name := range names {
		e, err := integration.ParseEntityType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// parseSince accepts RFC 3339 timestamps and plain dates (UTC midnight)
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func entityNames(entities []integration.EntityType) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.String()
	}
	return out
}

type entityRunJSON struct {
	Entity     integration.EntityType `json:"entity"`
	RunID      string                 `json:"run_id"`
	State      pipeline.State         `json:"state"`
	DurationMS int64                  `json:"duration_ms"`
	Stats      any                    `json:"stats"`
	Cursor     string                 `json:"cursor,omitempty"`
	Planned    int                    `json:"planned,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type migrationReportJSON struct {
	*pipeline.MigrationReport
	Entities []entityRunJSON `json:"entities"`
	Totals   any             `json:"totals"`
}

func migrationJSON(report *pipeline.MigrationReport) migrationReportJSON {
	out := migrationReportJSON{MigrationReport: report, Totals: report.Totals()}
	for _, r := range report.Results {
		e := entityRunJSON{
			Entity:     r.Entity,
			RunID:      r.RunID.String(),
			State:      r.State,
			DurationMS: r.Duration().Milliseconds(),
			Stats:      r.Stats,
			Planned:    len(r.Planned),
		}
		if r.Checkpoint != nil {
			e.Cursor = r.Checkpoint.LastProcessedCursor
		}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		out.Entities = append(out.Entities, e)
	}
	return out
}

