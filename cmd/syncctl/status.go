package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/spf13/cobra"
)

const (
	statusRunning = "running"
	statusIdle    = "idle"
)

// entityStatus is the live view of one entity's migration
type entityStatus struct {
	Entity    integration.EntityType `json:"entity"`
	Status    string                 `json:"status"`
	Cursor    string                 `json:"cursor,omitempty"`
	Processed int64                  `json:"records_processed"`
	LastRun   *checkpoint.RunRecord  `json:"last_run,omitempty"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [entity]",
		Short: "Show which entities are being migrated, their checkpoint and their last run",
		Example: `  syncctl status
  syncctl status order -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entities := integration.DependencyOrder()
			if len(args) == 1 {
				e, err := integration.ParseEntityType(args[0])
				if err != nil {
					return err
				}
				entities = []integration.EntityType{e}
			}

			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses := make([]entityStatus, 0, len(entities))
			for _, entity := range entities {
				s, err := a.statusOf(cmd.Context(), entity)
				if err != nil {
					return err
				}
				statuses = append(statuses, *s)
			}
			if root.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), statuses)
			}
			renderStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
}

// statusOf reports an entity as running while another run holds its lock.
// When the lock is free it is taken and released straight away.
func (a *app) statusOf(ctx context.Context, entity integration.EntityType) (*entityStatus, error) {
	s := &entityStatus{Entity: entity, Status: statusIdle}

	release, err := a.locker.Acquire(ctx, entity)
	switch {
	case errors.Is(err, integration.ErrEntityLocked):
		s.Status = statusRunning
	case err != nil:
		return nil, fmt.Errorf("status %s: %w", entity, err)
	default:
		release()
	}

	cp, err := a.checkpoints.Load(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", entity, err)
	}
	if cp != nil {
		s.Cursor = cp.LastProcessedCursor
		s.Processed = cp.RecordsProcessed
	}

	runs, err := a.runs.List(ctx, checkpoint.RunFilter{Entity: entity, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", entity, err)
	}
	if len(runs) > 0 {
		s.LastRun = &runs[0]
	}
	return s, nil
}
