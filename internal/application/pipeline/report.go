package pipeline

import (
	"context"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// EntitySummary reconciles the run history of one entity
type EntitySummary struct {
	Entity integration.EntityType `json:"entity"`
	Runs   int                    `json:"runs"`
	Totals checkpoint.Counts      `json:"totals"`
	// SuccessRate is loaded / (loaded + failed) in percent; zero without
	// processed records.
	SuccessRate decimal.Decimal        `json:"success_rate"`
	LastRun     *checkpoint.RunRecord  `json:"last_run,omitempty"`
	DLQBacklog  int64                  `json:"dlq_backlog"`
	Checkpoint  *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
}

// ReconciliationReport aggregates run history, checkpoints and the dead
// letter backlog per entity
type ReconciliationReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Since       *time.Time        `json:"since,omitempty"`
	Entities    []EntitySummary   `json:"entities"`
	Totals      checkpoint.Counts `json:"totals"`
	SuccessRate decimal.Decimal   `json:"success_rate"`
	DLQBacklog  int64             `json:"dlq_backlog"`
	DLQLocation string            `json:"dlq_location"`
}

// ReportOptions filter the runs a report covers
type ReportOptions struct {
	Since         *time.Time
	IncludeDryRun bool
}

// ReportService builds reconciliation reports
type ReportService struct {
	runs        checkpoint.RunRepository
	checkpoints checkpoint.Repository
	dlq         deadletter.Repository
	now         func() time.Time
}

// NewReportService creates a report service
func NewReportService(runs checkpoint.RunRepository, checkpoints checkpoint.Repository, dlq deadletter.Repository) *ReportService {
	return &ReportService{
		runs:        runs,
		checkpoints: checkpoints,
		dlq:         dlq,
		now:         time.Now,
	}
}

// Build aggregates every entity in dependency order
func (s *ReportService) Build(ctx context.Context, opts ReportOptions) (*ReconciliationReport, error) {
	runs, err := s.runs.List(ctx, checkpoint.RunFilter{Since: opts.Since})
	if err != nil {
		return nil, err
	}
	cps, err := s.checkpoints.List(ctx)
	if err != nil {
		return nil, err
	}
	cpByEntity := make(map[integration.EntityType]*checkpoint.Checkpoint, len(cps))
	for i := range cps {
		cpByEntity[cps[i].Entity] = &cps[i]
	}

	report := &ReconciliationReport{
		GeneratedAt: s.now().UTC(),
		Since:       opts.Since,
		DLQLocation: s.dlq.Location(),
	}
	for _, entity := range integration.DependencyOrder() {
		summary := EntitySummary{Entity: entity, Checkpoint: cpByEntity[entity]}
		// runs are listed newest first
		for i := range runs {
			run := &runs[i]
			if run.Entity != entity || (run.DryRun && !opts.IncludeDryRun) {
				continue
			}
			if summary.LastRun == nil {
				summary.LastRun = run
			}
			summary.Runs++
			summary.Totals = summary.Totals.Add(run.Stats)
		}
		backlog, err := s.dlq.Count(ctx, entity)
		if err != nil {
			return nil, err
		}
		summary.DLQBacklog = backlog
		summary.SuccessRate = successRate(summary.Totals)

		report.Entities = append(report.Entities, summary)
		report.Totals = report.Totals.Add(summary.Totals)
		report.DLQBacklog += backlog
	}
	report.SuccessRate = successRate(report.Totals)
	return report, nil
}

func successRate(c checkpoint.Counts) decimal.Decimal {
	processed := c.Loaded + c.Failed
	if processed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(c.Loaded).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(processed), 2)
}
