package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// dlqFilterFlags are shared by the dlq subcommands that select entries
type dlqFilterFlags struct {
	entity string
	kind   string
	since  string
	limit  int
}

func (f *dlqFilterFlags) register(cmd *cobra.Command, withLimit bool) {
	cmd.Flags().StringVarP(&f.entity, "entity", "e", "", "Only entries of this entity")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only entries of this error kind ("+kindNames()+")")
	cmd.Flags().StringVar(&f.since, "since", "", "Only entries that failed at or after this time (RFC 3339 or YYYY-MM-DD)")
	if withLimit {
		cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum number of entries (0 for all)")
	}
}

func (f *dlqFilterFlags) filter() (deadletter.Filter, error) {
	var filter deadletter.Filter
	if f.entity != "" {
		e, err := integration.ParseEntityType(f.entity)
		if err != nil {
			return filter, err
		}
		filter.Entity = e
	}
	if f.kind != "" {
		k, err := deadletter.ParseErrorKind(f.kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = k
	}
	if f.since != "" {
		since, err := parseSince(f.since)
		if err != nil {
			return filter, err
		}
		filter.Since = &since
	}
	if f.limit < 0 {
		return filter, fmt.Errorf("--limit must not be negative")
	}
	filter.Limit = f.limit
	return filter, nil
}

func (f *dlqFilterFlags) empty() bool {
	return f.entity == "" && f.kind == "" && f.since == ""
}

func kindNames() string {
	kinds := deadletter.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}

func newDLQCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dlq",
		Aliases: []string{"deadletter"},
		Short:   "Inspect, export, retry and purge dead-lettered records",
	}
	cmd.AddCommand(
		newDLQListCmd(root),
		newDLQStatsCmd(root),
		newDLQRetryCmd(root),
		newDLQExportCmd(root),
		newDLQPurgeCmd(root),
	)
	return cmd
}

func newDLQListCmd(root *rootOptions) *cobra.Command {
	flags := &dlqFilterFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries, oldest first",
		Example: `  syncctl dlq list --entity order --kind validation
  syncctl dlq list --since 2024-05-01 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.dlqService()
			if err != nil {
				return err
			}
			entries, err := svc.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				if entries == nil {
					entries = []deadletter.Entry{}
				}
				return printJSON(cmd.OutOrStdout(), entries)
			}
			renderDLQEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newDLQStatsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count dead letter entries per entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.dlqService()
			if err != nil {
				return err
			}
			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			renderDLQStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newDLQRetryCmd(root *rootOptions) *cobra.Command {
	var all bool
	flags := &dlqFilterFlags{}
	cmd := &cobra.Command{
		Use:   "retry [id]",
		Short: "Reprocess dead letter entries against the target",
		Long: `Retry maps, validates and upserts the original record of an entry again.
A resolved entry is removed from the queue; an entry that fails again keeps
its place with an incremented retry count.`,
		Example: `  syncctl dlq retry 0b6c1f0e-7f1a-4c55-9d57-6a3b1b0c2d11
  syncctl dlq retry --all --entity product`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give either an entry id or --all")
			}

			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			svc, err := a.dlqService()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !all {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid entry id %q: %w", args[0], err)
				}
				outcome, err := svc.Retry(cmd.Context(), id)
				if err != nil {
					return err
				}
				if root.jsonOutput() {
					if err := printJSON(out, outcome); err != nil {
						return err
					}
				} else {
					renderRetry(out, outcome)
				}
				if !outcome.Resolved {
					return fmt.Errorf("%w: entry %s failed again", errPartial, id)
				}
				return nil
			}

			filter, err := flags.filter()
			if err != nil {
				return err
			}
			summary, err := svc.RetryAll(cmd.Context(), filter)
			if err != nil {
				return err
			}
			a.logger.Info("Bulk dead letter retry finished",
				zap.Int("attempted", summary.Attempted),
				zap.Int("resolved", summary.Resolved),
				zap.Int("failed", summary.Failed))
			if root.jsonOutput() {
				if err := printJSON(out, summary); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Retried %d entries: ", summary.Attempted)
				successColor.Fprintf(out, "%d resolved", summary.Resolved)
				fmt.Fprint(out, ", ")
				if summary.Failed > 0 {
					errorColor.Fprintf(out, "%d failed again\n", summary.Failed)
				} else {
					fmt.Fprintln(out, "0 failed again")
				}
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%w: %d entries failed again", errPartial, summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every entry matching the filter flags")
	flags.register(cmd, true)
	return cmd
}

func newDLQExportCmd(root *rootOptions) *cobra.Command {
	var file string
	flags := &dlqFilterFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export dead letter entries as CSV",
		Example: `  syncctl dlq export --file failed-orders.csv --entity order
  syncctl dlq export > dlq.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			svc, err := a.dlqService()
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if file != "" {
				f, err := os.Create(file)
				if err != nil {
					return fmt.Errorf("create %s: %w", file, err)
				}
				defer f.Close()
				bw := bufio.NewWriter(f)
				defer bw.Flush()
				w = bw
			}
			n, err := svc.Export(cmd.Context(), w, filter)
			if err != nil {
				return err
			}
			if file != "" {
				successColor.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d entries to %s\n", n, file)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to this file instead of stdout")
	flags.register(cmd, true)
	return cmd
}

func newDLQPurgeCmd(root *rootOptions) *cobra.Command {
	var (
		yes       bool
		olderThan time.Duration
	)
	flags := &dlqFilterFlags{}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead letter entries without retrying them",
		Example: `  syncctl dlq purge --entity address --kind validation --yes
  syncctl dlq purge --older-than 720h --yes
  syncctl dlq purge --all --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if flags.empty() && olderThan == 0 && !all {
				return fmt.Errorf("refusing to purge every entry without --all")
			}
			if !yes {
				return fmt.Errorf("purge deletes entries permanently; pass --yes to confirm")
			}
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			if olderThan < 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			if olderThan > 0 {
				before := time.Now().UTC().Add(-olderThan)
				filter.Before = &before
			}
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()
			svc, err := a.dlqService()
			if err != nil {
				return err
			}
			n, err := svc.Purge(cmd.Context(), filter)
			if err != nil {
				return err
			}
			a.logger.Info("Dead letter entries purged", zap.Int("count", n), zap.String("entity", filter.Entity.String()))
			if root.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]int{"purged": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entries from %s\n", n, svc.Location())
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Purge every entry")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only entries that failed longer ago than this (e.g. 720h)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the purge")
	flags.register(cmd, false)
	return cmd
}
