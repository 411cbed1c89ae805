package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"sync"
	"testing"

	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/infrastructure/retry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (h *harness) enqueue(entity integration.EntityType, raw record.Record, cause error) *deadletter.Entry {
	h.t.Helper()
	e := deadletter.NewEntry(entity, raw, cause)
	require.NoError(h.t, h.dlq.Enqueue(context.Background(), e))
	return e
}

func (h *harness) dlqService(loader integration.Loader) *DLQService {
	return NewDLQService(h.dlq,
		WithReprocessing(h.catalog, h.validator, loader, retry.New(retry.Policy{MaxRetries: 0})),
		WithDLQLogger(h.logger),
		WithDLQRecorder(h.recorder),
		WithDLQLocker(h.locker),
	)
}

// gatedLoader blocks every upsert until open is closed
type gatedLoader struct {
	*memoryLoader
	entered chan struct{}
	open    chan struct{}
}

func (l *gatedLoader) Upsert(ctx context.Context, entity integration.EntityType, r record.Record) (*integration.UpsertResult, error) {
	l.entered <- struct{}{}
	<-l.open
	return l.memoryLoader.Upsert(ctx, entity, r)
}

func TestDLQService_RetryResolvesEntry(t *testing.T) {
	h := newHarness(t)
	entry := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())
	svc := h.dlqService(h.loader)
	ctx := context.Background()

	outcome, err := svc.Retry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	require.NotNil(t, outcome.Upsert)
	assert.True(t, outcome.Upsert.Created)
	assert.Equal(t, "tgt_SKU-1", outcome.Upsert.ID)

	stored, ok := h.loader.get(integration.EntityProduct, "SKU-1")
	require.True(t, ok)
	amount, _ := stored.Lookup("variants[0].prices[0].amount")
	assert.Equal(t, int64(1999), amount)

	_, err = svc.Get(ctx, entry.ID)
	assert.ErrorIs(t, err, deadletter.ErrNotFound)
	assert.Equal(t, int64(0), h.recorder.backlog["product"])
}

func TestDLQService_ConcurrentRetriesWriteOnce(t *testing.T) {
	h := newHarness(t)
	entry := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())
	loader := &gatedLoader{memoryLoader: h.loader, entered: make(chan struct{}, 2), open: make(chan struct{})}
	svc := h.dlqService(loader)
	ctx := context.Background()

	type result struct {
		outcome *RetryOutcome
		err     error
	}
	first := make(chan result, 1)
	go func() {
		outcome, err := svc.Retry(ctx, entry.ID)
		first <- result{outcome, err}
	}()
	<-loader.entered

	_, err := svc.Retry(ctx, entry.ID)
	assert.ErrorIs(t, err, integration.ErrEntityLocked)

	close(loader.open)
	res := <-first
	require.NoError(t, res.err)
	assert.True(t, res.outcome.Resolved)

	_, err = svc.Retry(ctx, entry.ID)
	assert.ErrorIs(t, err, deadletter.ErrNotFound)
	assert.Equal(t, 1, h.loader.calls)
	assert.False(t, h.locker.IsHeld(integration.EntityProduct))
}

func TestDLQService_RetryRefusedDuringMigration(t *testing.T) {
	h := newHarness(t)
	entry := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())
	svc := h.dlqService(h.loader)
	ctx := context.Background()

	release, err := h.locker.Acquire(ctx, integration.EntityProduct)
	require.NoError(t, err)
	_, err = svc.Retry(ctx, entry.ID)
	assert.ErrorIs(t, err, integration.ErrEntityLocked)
	assert.Zero(t, h.loader.count())

	stored, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.RetryCount, "a locked retry is not an attempt")

	release()
	outcome, err := svc.Retry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
}

func TestDLQService_RetryFailureKeepsEntry(t *testing.T) {
	h := newHarness(t)
	raw := magentoProduct("SKU-2", "1")
	delete(raw, "price")
	entry := h.enqueue(integration.EntityProduct, raw, transientErr())
	svc := h.dlqService(h.loader)
	ctx := context.Background()

	outcome, err := svc.Retry(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Resolved)
	assert.NotEmpty(t, outcome.Error)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, 1, outcome.Entry.RetryCount)
	assert.Equal(t, deadletter.KindMissingRequiredField, outcome.Entry.ErrorKind)

	stored, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Zero(t, h.loader.count())
}

func TestDLQService_RetryUnauthorizedIsReturned(t *testing.T) {
	h := newHarness(t)
	entry := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())

	loader := new(MockLoader)
	loader.On("Upsert", mock.Anything, integration.EntityProduct, mock.Anything).
		Return(nil, &integration.RemoteError{Op: "upsert product", StatusCode: 403, Kind: integration.ErrUnauthorized})
	svc := h.dlqService(loader)

	_, err := svc.Retry(context.Background(), entry.ID)
	assert.ErrorIs(t, err, integration.ErrUnauthorized)

	stored, err := svc.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.RetryCount)
}

func TestDLQService_RetryUnavailable(t *testing.T) {
	h := newHarness(t)
	svc := NewDLQService(h.dlq)

	_, err := svc.Retry(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRetryUnavailable)
}

func TestDLQService_RetryAll(t *testing.T) {
	h := newHarness(t)
	broken := magentoProduct("SKU-2", "1")
	delete(broken, "price")
	h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())
	h.enqueue(integration.EntityProduct, broken, transientErr())
	svc := h.dlqService(h.loader)

	summary, err := svc.RetryAll(context.Background(), deadletter.Filter{Entity: integration.EntityProduct})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, summary.Failed)

	n, err := h.dlq.Count(context.Background(), integration.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// resolvingLoader deletes every other queued entry on its first write, the
// way a concurrent `dlq retry` of those entries would.
type resolvingLoader struct {
	*memoryLoader
	dlq   deadletter.Repository
	bySKU map[string]uuid.UUID
	once  sync.Once
}

func (l *resolvingLoader) Upsert(ctx context.Context, entity integration.EntityType, r record.Record) (*integration.UpsertResult, error) {
	key, err := integration.StableKey(entity, r)
	if err != nil {
		return nil, err
	}
	l.once.Do(func() {
		for sku, id := range l.bySKU {
			if sku != key {
				_ = l.dlq.Delete(ctx, id)
			}
		}
	})
	return l.memoryLoader.Upsert(ctx, entity, r)
}

func TestDLQService_RetryAllSkipsEntriesResolvedElsewhere(t *testing.T) {
	h := newHarness(t)
	first := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())
	second := h.enqueue(integration.EntityProduct, magentoProduct("SKU-2", "5.00"), transientErr())
	loader := &resolvingLoader{
		memoryLoader: h.loader,
		dlq:          h.dlq,
		bySKU:        map[string]uuid.UUID{"SKU-1": first.ID, "SKU-2": second.ID},
	}
	svc := h.dlqService(loader)

	summary, err := svc.RetryAll(context.Background(), deadletter.Filter{Entity: integration.EntityProduct})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, h.loader.count())

	n, err := h.dlq.Count(context.Background(), integration.EntityProduct)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDLQService_ExportCSV(t *testing.T) {
	h := newHarness(t)
	first := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "19.99"), transientErr())
	h.enqueue(integration.EntityOrder, record.Record{"increment_id": "100000001"}, transientErr())
	svc := h.dlqService(h.loader)

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, deadletter.Filter{Entity: integration.EntityProduct})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"id", "entity", "error_kind", "error", "failed_at", "retry_count", "original_data"}, rows[0])
	assert.Equal(t, first.ID.String(), rows[1][0])
	assert.Equal(t, "product", rows[1][1])
	assert.Equal(t, "transient_remote", rows[1][2])
	assert.Equal(t, "0", rows[1][5])

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[1][6]), &data))
	assert.Equal(t, "SKU-1", data["sku"])
}

func TestDLQService_StatsDeleteAndPurge(t *testing.T) {
	h := newHarness(t)
	p1 := h.enqueue(integration.EntityProduct, magentoProduct("SKU-1", "1"), transientErr())
	h.enqueue(integration.EntityProduct, magentoProduct("SKU-2", "1"), transientErr())
	h.enqueue(integration.EntityProduct, magentoProduct("SKU-3", "1"), transientErr())
	h.enqueue(integration.EntityOrder, record.Record{"increment_id": "100000001"}, transientErr())
	svc := h.dlqService(h.loader)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.ByEntity[integration.EntityProduct])
	assert.Equal(t, int64(1), stats.ByEntity[integration.EntityOrder])
	assert.Equal(t, h.dlq.Location(), stats.Location)

	require.NoError(t, svc.Delete(ctx, p1.ID))
	assert.ErrorIs(t, svc.Delete(ctx, p1.ID), deadletter.ErrNotFound)
	assert.Equal(t, int64(2), h.recorder.backlog["product"])

	removed, err := svc.Purge(ctx, deadletter.Filter{Entity: integration.EntityProduct})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, int64(0), h.recorder.backlog["product"])

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}
