package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) saveRun(entity integration.EntityType, startedAt time.Time, dryRun bool, stats checkpoint.Counts) {
	h.t.Helper()
	require.NoError(h.t, h.runs.Save(context.Background(), &checkpoint.RunRecord{
		ID:         uuid.New(),
		Entity:     entity,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Minute),
		State:      StateCompleted.String(),
		DryRun:     dryRun,
		Stats:      stats,
	}))
}

func TestReportService_Build(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	h.saveRun(integration.EntityProduct, day, false, checkpoint.Counts{Extracted: 10, Loaded: 9, Created: 9, Failed: 1, DLQd: 1})
	h.saveRun(integration.EntityProduct, day.Add(time.Hour), false, checkpoint.Counts{Extracted: 4, Loaded: 2, Updated: 2, Failed: 1, DLQd: 1, Skipped: 1})
	h.saveRun(integration.EntityProduct, day.Add(2*time.Hour), true, checkpoint.Counts{Extracted: 100, Loaded: 100})
	h.saveRun(integration.EntityCustomer, day, false, checkpoint.Counts{Extracted: 3, Loaded: 3, Created: 3})
	h.enqueue(integration.EntityProduct, magentoProduct("SKU-9", "1"), transientErr())
	require.NoError(t, h.checkpoints.Save(ctx, &checkpoint.Checkpoint{
		Entity:    integration.EntityProduct,
		LastRunAt: day.Add(time.Hour),
	}))

	report, err := NewReportService(h.runs, h.checkpoints, h.dlq).Build(ctx, ReportOptions{})
	require.NoError(t, err)

	require.Len(t, report.Entities, len(integration.DependencyOrder()))
	assert.Equal(t, h.dlq.Location(), report.DLQLocation)
	assert.Equal(t, int64(1), report.DLQBacklog)

	product := report.Entities[1]
	assert.Equal(t, integration.EntityProduct, product.Entity)
	assert.Equal(t, 2, product.Runs)
	assert.Equal(t, int64(11), product.Totals.Loaded)
	assert.Equal(t, int64(2), product.Totals.Failed)
	assert.True(t, decimal.RequireFromString("84.62").Equal(product.SuccessRate), product.SuccessRate.String())
	require.NotNil(t, product.LastRun)
	assert.True(t, product.LastRun.StartedAt.Equal(day.Add(time.Hour)))
	assert.Equal(t, int64(1), product.DLQBacklog)
	require.NotNil(t, product.Checkpoint)

	customer := report.Entities[2]
	assert.True(t, decimal.NewFromInt(100).Equal(customer.SuccessRate))
	assert.Nil(t, customer.Checkpoint)

	category := report.Entities[0]
	assert.Zero(t, category.Runs)
	assert.True(t, category.SuccessRate.IsZero())
	assert.Nil(t, category.LastRun)

	assert.Equal(t, int64(14), report.Totals.Loaded)
}

func TestReportService_IncludeDryRunAndSince(t *testing.T) {
	h := newHarness(t)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h.saveRun(integration.EntityOrder, day, false, checkpoint.Counts{Loaded: 1})
	h.saveRun(integration.EntityOrder, day.Add(48*time.Hour), true, checkpoint.Counts{Loaded: 5})
	svc := NewReportService(h.runs, h.checkpoints, h.dlq)

	since := day.Add(24 * time.Hour)
	report, err := svc.Build(context.Background(), ReportOptions{Since: &since, IncludeDryRun: true})
	require.NoError(t, err)

	order := report.Entities[4]
	assert.Equal(t, integration.EntityOrder, order.Entity)
	assert.Equal(t, 1, order.Runs)
	assert.Equal(t, int64(5), order.Totals.Loaded)
}
