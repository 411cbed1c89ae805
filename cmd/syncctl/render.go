package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/fatih/color"
)

var (
	colorMuted   = lipgloss.Color("240")
	colorPrimary = lipgloss.Color("86")

	headerStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(colorMuted)

	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func renderMigration(w io.Writer, report *pipeline.MigrationReport) {
	t := newTable("ENTITY", "STATE", "EXTRACTED", "CREATED", "UPDATED", "SKIPPED", "DLQ", "FAILED", "DURATION")
	for _, r := range report.Results {
		t.Row(
			r.Entity.String(),
			r.State.String(),
			itoa(r.Stats.Extracted),
			itoa(r.Stats.Created),
			itoa(r.Stats.Updated),
			itoa(r.Stats.Skipped),
			itoa(r.Stats.DLQd),
			itoa(r.Stats.Failed),
			r.Duration().Round(time.Millisecond).String(),
		)
	}
	fmt.Fprintln(w, t.Render())

	totals := report.Totals()
	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	switch {
	case report.Failed():
		errorColor.Fprintf(w, "✗ Migration failed for %d entities%s\n", len(report.Failures), mode)
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s while %s: %s\n", f.Entity, f.State, f.Error)
		}
	case totals.DLQd > 0 || totals.Failed > 0:
		warnColor.Fprintf(w, "! Migration finished with %d failed records%s\n", totals.Failed, mode)
	default:
		successColor.Fprintf(w, "✓ Migration complete%s\n", mode)
	}
	fmt.Fprintf(w, "  loaded %d (created %d, updated %d), skipped %d, dead-lettered %d in %s\n",
		totals.Loaded, totals.Created, totals.Updated, totals.Skipped, totals.DLQd,
		report.Duration().Round(time.Millisecond))
	if totals.DLQd > 0 {
		fmt.Fprintf(w, "  dead letter queue: %s\n", report.DLQLocation)
	}
}

func renderPlanned(w io.Writer, planned []pipeline.PlannedWrite) {
	if len(planned) == 0 {
		return
	}
	t := newTable("ENTITY", "KEY", "ACTION")
	for _, p := range planned {
		action := "update"
		if p.Create {
			action = "create"
		}
		t.Row(p.Entity.String(), p.Key, action)
	}
	fmt.Fprintln(w, t.Render())
}

func renderDLQEntries(w io.Writer, entries []deadletter.Entry) {
	if len(entries) == 0 {
		successColor.Fprintln(w, "✓ Dead letter queue is empty")
		return
	}
	t := newTable("ID", "ENTITY", "KIND", "RETRIES", "FAILED AT", "ERROR")
	for _, e := range entries {
		t.Row(
			e.ID.String(),
			e.Entity.String(),
			e.ErrorKind.String(),
			strconv.Itoa(e.RetryCount),
			e.FailedAt.Format(time.RFC3339),
			truncate(e.Error, 80),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func renderDLQStats(w io.Writer, stats *pipeline.DLQStats) {
	t := newTable("ENTITY", "ENTRIES")
	for _, entity := range integration.DependencyOrder() {
		if n := stats.ByEntity[entity]; n > 0 {
			t.Row(entity.String(), itoa(n))
		}
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d entries in %s\n", stats.Total, stats.Location)
}

func renderRetry(w io.Writer, outcome *pipeline.RetryOutcome) {
	if outcome.Resolved {
		successColor.Fprintf(w, "✓ %s %s resolved", outcome.Entity, outcome.ID)
		if outcome.Upsert != nil {
			fmt.Fprintf(w, " (target id %s)", outcome.Upsert.ID)
		}
		fmt.Fprintln(w)
		return
	}
	errorColor.Fprintf(w, "✗ %s %s failed again: %s\n", outcome.Entity, outcome.ID, outcome.Error)
}

func renderCheckpoints(w io.Writer, cps []checkpoint.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No checkpoints recorded")
		return
	}
	t := newTable("ENTITY", "CURSOR", "PROCESSED", "LAST RUN")
	for _, cp := range cps {
		cursor := cp.LastProcessedCursor
		if cursor == "" {
			cursor = "-"
		}
		lastRun := "-"
		if !cp.LastRunAt.IsZero() {
			lastRun = cp.LastRunAt.Format(time.RFC3339)
		}
		t.Row(cp.Entity.String(), cursor, itoa(cp.RecordsProcessed), lastRun)
	}
	fmt.Fprintln(w, t.Render())
}

func renderReport(w io.Writer, report *pipeline.ReconciliationReport) {
	t := newTable("ENTITY", "RUNS", "EXTRACTED", "LOADED", "FAILED", "SUCCESS %", "DLQ", "LAST RUN")
	for _, e := range report.Entities {
		lastRun := "never"
		if e.LastRun != nil {
			lastRun = e.LastRun.State + " " + e.LastRun.StartedAt.Format(time.RFC3339)
		}
		t.Row(
			e.Entity.String(),
			strconv.Itoa(e.Runs),
			itoa(e.Totals.Extracted),
			itoa(e.Totals.Loaded),
			itoa(e.Totals.Failed),
			e.SuccessRate.StringFixed(2),
			itoa(e.DLQBacklog),
			lastRun,
		)
	}
	fmt.Fprintln(w, t.Render())

	line := fmt.Sprintf("Overall success rate %s%%, %d records waiting in %s",
		report.SuccessRate.StringFixed(2), report.DLQBacklog, report.DLQLocation)
	if report.DLQBacklog > 0 {
		warnColor.Fprintln(w, line)
		return
	}
	successColor.Fprintln(w, line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderConnectionChecks(w io.Writer, checks []connectionCheck) {
	for _, c := range checks {
		switch {
		case c.Skipped:
			warnColor.Fprintf(w, "- %s skipped", c.Name)
			fmt.Fprintf(w, ": %s\n", c.Error)
		case c.OK:
			successColor.Fprintf(w, "✓ %s", c.Name)
			fmt.Fprintf(w, " %s (%dms)\n", c.Endpoint, c.LatencyMS)
		default:
			errorColor.Fprintf(w, "✗ %s", c.Name)
			fmt.Fprintf(w, " %s: %s\n", c.Endpoint, c.Error)
		}
	}
}

func renderStatus(w io.Writer, statuses []entityStatus) {
	t := newTable("ENTITY", "STATUS", "CURSOR", "PROCESSED", "LAST RUN", "RESULT")
	for _, s := range statuses {
		cursor, lastRun, result := "-", "never", "-"
		if s.Cursor != "" {
			cursor = s.Cursor
		}
		if s.LastRun != nil {
			lastRun = s.LastRun.StartedAt.Format(time.RFC3339)
			result = fmt.Sprintf("%s, %d loaded, %d dlq", s.LastRun.State, s.LastRun.Stats.Loaded, s.LastRun.Stats.DLQd)
			if s.LastRun.DryRun {
				result += " (dry run)"
			}
		}
		t.Row(s.Entity.String(), s.Status, cursor, itoa(s.Processed), lastRun, result)
	}
	fmt.Fprintln(w, t.Render())
}
