package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"go.uber.org/zap"
)

// EntityFailure is an entity run that ended without completing
type EntityFailure struct {
	Entity integration.EntityType `json:"entity"`
	State  State                  `json:"state"`
	Error  string                 `json:"error"`
	err    error
}

// MigrationReport summarizes a RunAll call
type MigrationReport struct {
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	DryRun      bool            `json:"dry_run"`
	Results     []*RunResult    `json:"-"`
	Failures    []EntityFailure `json:"failures,omitempty"`
	DLQLocation string          `json:"dlq_location"`
}

// Totals sums the counters of every entity run
func (r *MigrationReport) Totals() checkpoint.Counts {
	var total checkpoint.Counts
	for _, res := range r.Results {
		total = total.Add(res.Stats)
	}
	return total
}

// Failed reports whether any entity run failed or was cancelled
func (r *MigrationReport) Failed() bool {
	return len(r.Failures) > 0
}

// Err joins the errors of every failed entity run
func (r *MigrationReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.err)
	}
	return errors.Join(errs...)
}

// Duration is the wall time of the migration
func (r *MigrationReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunAll migrates every entity in dependency order. A failed entity is
// recorded in the report and the following entities still run; cancelling ctx
// stops the migration after the current entity.
func (o *Orchestrator) RunAll(ctx context.Context, opts RunOptions) *MigrationReport {
	return o.RunEntities(ctx, integration.DependencyOrder(), opts)
}

// RunEntities is RunAll restricted to entities, which are run in dependency
// order regardless of the order given.
func (o *Orchestrator) RunEntities(ctx context.Context, entities []integration.EntityType, opts RunOptions) *MigrationReport {
	report := &MigrationReport{
		StartedAt:   o.now().UTC(),
		DryRun:      opts.DryRun,
		DLQLocation: o.deps.DLQ.Location(),
	}
	wanted := make(map[integration.EntityType]bool, len(entities))
	for _, e := range entities {
		wanted[e] = true
	}

	for _, entity := range integration.DependencyOrder() {
		if !wanted[entity] {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.addFailure(entity, StateCancelled, err)
			continue
		}

		result, err := o.RunEntity(ctx, entity, opts)
		if result != nil {
			report.Results = append(report.Results, result)
		}
		if err != nil {
			state := StateFailed
			if result != nil {
				state = result.State
			}
			report.addFailure(entity, state, err)
			o.logger.Error("Entity migration failed, continuing with the next entity",
				zap.String("entity", entity.String()),
				zap.Error(err))
		}
	}

	report.FinishedAt = o.now().UTC()
	return report
}

func (r *MigrationReport) addFailure(entity integration.EntityType, state State, err error) {
	r.Failures = append(r.Failures, EntityFailure{
		Entity: entity,
		State:  state,
		Error:  err.Error(),
		err:    fmt.Errorf("%s: %w", entity, err),
	})
}
