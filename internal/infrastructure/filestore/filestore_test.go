package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, writeFileAtomic(path, []byte(`{"v":1}`)))
	require.NoError(t, writeFileAtomic(path, []byte(`{"v":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))

	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, files, 1, "no temp files left behind")
}

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)

	t.Run("load without checkpoint", func(t *testing.T) {
		cp, err := store.Load(ctx, integration.EntityProduct)
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("save replaces", func(t *testing.T) {
		first := &checkpoint.Checkpoint{Entity: integration.EntityProduct, LastProcessedCursor: "1", LastRunAt: time.Now(), RecordsProcessed: 50}
		require.NoError(t, store.Save(ctx, first))
		require.NoError(t, store.Save(ctx, first.Advance("2", 25, time.Now())))

		cp, err := store.Load(ctx, integration.EntityProduct)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, "2", cp.LastProcessedCursor)
		assert.Equal(t, int64(75), cp.RecordsProcessed)
	})

	t.Run("window round trips", func(t *testing.T) {
		since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		cp := (&checkpoint.Checkpoint{Entity: integration.EntityCustomer, LastProcessedCursor: "4", LastRunAt: time.Now()}).
			WithWindow(&since, 100)
		require.NoError(t, store.Save(ctx, cp))

		got, err := store.Load(ctx, integration.EntityCustomer)
		require.NoError(t, err)
		assert.True(t, got.ResumableWith(&since, 100))
		assert.False(t, got.ResumableWith(nil, 100))
		require.NoError(t, store.Delete(ctx, integration.EntityCustomer))
	})

	t.Run("corrupt file is a storage error", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.path(integration.EntityOrder), []byte("{not json"), filePerm))
		_, err := store.Load(ctx, integration.EntityOrder)
		assert.ErrorIs(t, err, checkpoint.ErrStorage)
		assert.ErrorIs(t, err, integration.ErrStorage)
		require.NoError(t, store.Delete(ctx, integration.EntityOrder))
	})

	t.Run("list and reset", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, &checkpoint.Checkpoint{Entity: integration.EntityCategory, LastRunAt: time.Now()}))
		list, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, integration.EntityCategory, list[0].Entity)

		require.NoError(t, store.Delete(ctx, integration.EntityCategory))
		require.NoError(t, store.Delete(ctx, integration.EntityCategory))
		list, err = store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("unknown entity rejected", func(t *testing.T) {
		err := store.Save(ctx, &checkpoint.Checkpoint{Entity: "invoice"})
		assert.ErrorIs(t, err, checkpoint.ErrStorage)
	})
}

func TestDLQStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	core, logs := observer.New(zapcore.WarnLevel)
	store, err := NewDLQStore(dir, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dlq"), store.Location())

	old := deadletter.NewEntry(integration.EntityProduct, record.Record{"sku": "OLD"}, errors.New("old"))
	old.FailedAt = time.Now().Add(-72 * time.Hour).UTC()
	fresh := deadletter.NewEntry(integration.EntityProduct, record.Record{"sku": "NEW"}, errors.New("new"))
	order := deadletter.NewEntry(integration.EntityOrder, record.Record{"increment_id": "9"}, errors.New("total"))
	for _, e := range []*deadletter.Entry{fresh, old, order} {
		require.NoError(t, store.Enqueue(ctx, e))
	}
	_, err = os.Stat(filepath.Join(dir, "dlq", "product", fresh.ID.String()+".json"))
	require.NoError(t, err, "one file per entry under the entity directory")

	t.Run("list order and filters", func(t *testing.T) {
		all, err := store.List(ctx, deadletter.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, old.ID, all[0].ID)

		since := time.Now().Add(-time.Hour)
		products, err := store.List(ctx, deadletter.Filter{Entity: integration.EntityProduct, Since: &since})
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "NEW", products[0].OriginalData.GetString("sku"))

		one, err := store.List(ctx, deadletter.Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, one, 1)
	})

	t.Run("get and mark retried", func(t *testing.T) {
		got, err := store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "9", got.OriginalData.GetString("increment_id"))

		updated, err := store.MarkRetried(ctx, order.ID, errors.New("still wrong"))
		require.NoError(t, err)
		assert.Equal(t, 1, updated.RetryCount)
		assert.Equal(t, "still wrong", updated.Error)

		reread, err := store.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reread.RetryCount)

		_, err = store.MarkRetried(ctx, uuid.New(), nil)
		assert.ErrorIs(t, err, deadletter.ErrNotFound)
	})

	t.Run("unreadable files are skipped", func(t *testing.T) {
		bad := filepath.Join(dir, "dlq", "order", uuid.NewString()+".json")
		require.NoError(t, os.WriteFile(bad, []byte("garbage"), filePerm))
		defer os.Remove(bad)

		entries, err := store.List(ctx, deadletter.Filter{Entity: integration.EntityOrder})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, 1, logs.FilterMessage("Skipping unreadable DLQ entry").Len())
	})

	t.Run("count delete purge", func(t *testing.T) {
		n, err := store.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		require.NoError(t, store.Delete(ctx, order.ID))
		assert.ErrorIs(t, store.Delete(ctx, order.ID), deadletter.ErrNotFound)

		cutoff := time.Now().Add(-24 * time.Hour)
		purged, err := store.Purge(ctx, deadletter.Filter{Entity: integration.EntityProduct, Since: &cutoff})
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		n, err = store.Count(ctx, integration.EntityProduct)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent enqueue", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e := deadletter.NewEntry(integration.EntityCustomer, record.Record{"email": "a@example.com"}, errors.New("x"))
				assert.NoError(t, store.Enqueue(ctx, e))
			}()
		}
		wg.Wait()
		n, err := store.Count(ctx, integration.EntityCustomer)
		require.NoError(t, err)
		assert.Equal(t, int64(20), n)
	})
}

func TestRunStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewRunStore(dir, zap.NewNop())
	require.NoError(t, err)

	runs, err := store.List(ctx, checkpoint.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	base := time.Now().Add(-time.Hour).UTC()
	for i, entity := range []integration.EntityType{integration.EntityCategory, integration.EntityProduct, integration.EntityProduct} {
		require.NoError(t, store.Save(ctx, &checkpoint.RunRecord{
			ID:        uuid.New(),
			Entity:    entity,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			State:     "completed",
			Stats:     checkpoint.Counts{Extracted: int64(i + 1)},
		}))
	}

	// a crash mid-append leaves a partial line
	f, err := os.OpenFile(filepath.Join(dir, "runs.jsonl"), os.O_APPEND|os.O_WRONLY, filePerm)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"trunc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	products, err := store.List(ctx, checkpoint.RunFilter{Entity: integration.EntityProduct})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(3), products[0].Stats.Extracted, "newest first")

	latest, err := store.List(ctx, checkpoint.RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, integration.EntityProduct, latest[0].Entity)
}

func TestFileLocker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	locker, err := NewFileLocker(dir)
	require.NoError(t, err)

	release, err := locker.Acquire(ctx, integration.EntityOrder)
	require.NoError(t, err)

	other, err := NewFileLocker(dir)
	require.NoError(t, err)
	_, err = other.Acquire(ctx, integration.EntityOrder)
	assert.ErrorIs(t, err, integration.ErrEntityLocked)

	releaseProduct, err := other.Acquire(ctx, integration.EntityProduct)
	require.NoError(t, err, "locks are per entity")
	releaseProduct()

	release()
	release()

	again, err := other.Acquire(ctx, integration.EntityOrder)
	require.NoError(t, err)
	again()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = locker.Acquire(cancelled, integration.EntityOrder)
	assert.ErrorIs(t, err, context.Canceled)
}
