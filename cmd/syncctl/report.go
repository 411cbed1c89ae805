package main

import (
	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/spf13/cobra"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var (
		since         string
		includeDryRun bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Reconcile run history, checkpoints and the dead letter backlog",
		Example: `  syncctl report
  syncctl report --since 2024-05-01 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := pipeline.ReportOptions{IncludeDryRun: includeDryRun}
			if since != "" {
				t, err := parseSince(since)
				if err != nil {
					return err
				}
				opts.Since = &t
			}

			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reportService().Build(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if root.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), report)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only runs started at or after this time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&includeDryRun, "include-dry-run", false, "Count dry runs as well")
	return cmd
}
