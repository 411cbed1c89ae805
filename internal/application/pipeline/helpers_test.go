package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/domain/transform"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/erp/commerce-sync/internal/infrastructure/cache"
	"github.com/erp/commerce-sync/internal/infrastructure/filestore"
	"github.com/erp/commerce-sync/internal/infrastructure/retry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ---------------------------------------------------------------------------
// Source fixtures
// ---------------------------------------------------------------------------

// pagedSource serves fixed records with page-number cursors
type pagedSource struct {
	mu      sync.Mutex
	records map[integration.EntityType][]record.Record
	// failOn maps "<entity>:<cursor>" to the error FetchPage returns
	failOn  map[string]error
	cursors []string
	filters []integration.Filters
	// afterFetch runs after every successful fetch
	afterFetch func()
}

func newPagedSource() *pagedSource {
	return &pagedSource{
		records: make(map[integration.EntityType][]record.Record),
		failOn:  make(map[string]error),
	}
}

func (s *pagedSource) add(entity integration.EntityType, recs ...record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entity] = append(s.records[entity], recs...)
}

func (s *pagedSource) failAt(entity integration.EntityType, cursor string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entity.String() + ":" + cursor
	if err == nil {
		delete(s.failOn, key)
		return
	}
	s.failOn[key] = err
}

func (s *pagedSource) FetchPage(_ context.Context, entity integration.EntityType, cursor string, filters integration.Filters) (*integration.Page, error) {
	s.mu.Lock()
	s.cursors = append(s.cursors, entity.String()+":"+cursor)
	s.filters = append(s.filters, filters)
	if err, ok := s.failOn[entity.String()+":"+cursor]; ok {
		s.mu.Unlock()
		return nil, err
	}
	recs := updatedSince(s.records[entity], filters.UpdatedSince)
	s.mu.Unlock()

	page := 1
	if cursor != "" {
		page, _ = strconv.Atoi(cursor)
	}
	size := filters.PageSize
	if size <= 0 {
		size = 2
	}
	start := (page - 1) * size
	out := &integration.Page{Records: []record.Record{}}
	if start < len(recs) {
		end := min(start+size, len(recs))
		for _, r := range recs[start:end] {
			out.Records = append(out.Records, r.Clone())
		}
		if end < len(recs) {
			next := strconv.Itoa(page + 1)
			out.NextCursor = &next
		}
	}
	if s.afterFetch != nil {
		s.afterFetch()
	}
	return out, nil
}

// updatedSince keeps records whose updated_at is not before since. Records
// without updated_at always match.
func updatedSince(recs []record.Record, since *time.Time) []record.Record {
	if since == nil {
		return recs
	}
	out := make([]record.Record, 0, len(recs))
	for _, r := range recs {
		at, err := time.Parse(time.DateTime, r.GetString("updated_at"))
		if err == nil && at.Before(*since) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *pagedSource) fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cursors...)
}

func (s *pagedSource) lastFilters() integration.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters[len(s.filters)-1]
}

// ---------------------------------------------------------------------------
// Loader fixtures
// ---------------------------------------------------------------------------

// memoryLoader upserts into a map keyed by stable key
type memoryLoader struct {
	mu     sync.Mutex
	stored map[string]record.Record
	calls  int
}

func newMemoryLoader() *memoryLoader {
	return &memoryLoader{stored: make(map[string]record.Record)}
}

func (l *memoryLoader) Upsert(_ context.Context, entity integration.EntityType, r record.Record) (*integration.UpsertResult, error) {
	key, err := integration.StableKey(entity, r)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	id := entity.String() + ":" + key
	_, exists := l.stored[id]
	l.stored[id] = r.Clone()
	return &integration.UpsertResult{ID: "tgt_" + key, Created: !exists}, nil
}

func (l *memoryLoader) get(entity integration.EntityType, key string) (record.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.stored[entity.String()+":"+key]
	return r, ok
}

func (l *memoryLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stored)
}

// MockLoader is a mock implementation of integration.Loader
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) Upsert(ctx context.Context, entity integration.EntityType, r record.Record) (*integration.UpsertResult, error) {
	args := m.Called(ctx, entity, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.UpsertResult), args.Error(1)
}

// stubMedia re-hosts every URL under a CDN prefix unless it is listed in fail
type stubMedia struct {
	mu       sync.Mutex
	fail     map[string]bool
	uploaded []string
}

func (m *stubMedia) Upload(_ context.Context, sourceURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[sourceURL] {
		return "", &integration.RemoteError{Op: "download image", StatusCode: 404, Kind: integration.ErrPermanentRemote}
	}
	m.uploaded = append(m.uploaded, sourceURL)
	return "https://cdn.test/media/" + strconv.Itoa(len(m.uploaded)) + ".jpg", nil
}

// extractorFunc adapts a function to integration.Extractor
type extractorFunc func(ctx context.Context, entity integration.EntityType, cursor string, filters integration.Filters) (*integration.Page, error)

func (f extractorFunc) FetchPage(ctx context.Context, entity integration.EntityType, cursor string, filters integration.Filters) (*integration.Page, error) {
	return f(ctx, entity, cursor, filters)
}

// leaseLocker hands out leases that are lost when the test closes lost
type leaseLocker struct {
	lost chan struct{}
}

func (l *leaseLocker) Acquire(ctx context.Context, entity integration.EntityType) (func(), error) {
	release, _, err := l.AcquireLease(ctx, entity)
	return release, err
}

func (l *leaseLocker) AcquireLease(context.Context, integration.EntityType) (func(), <-chan struct{}, error) {
	return func() {}, l.lost, nil
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int64
	retries  int
	batches  int
	runs     []string
	backlog  map[string]int64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		outcomes: make(map[string]int64),
		backlog:  make(map[string]int64),
	}
}

func (r *countingRecorder) RecordOutcome(_ context.Context, entity, outcome string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[entity+"/"+outcome] += n
}

func (r *countingRecorder) RecordBatch(context.Context, string, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
}

func (r *countingRecorder) RecordRetry(context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) RecordRun(_ context.Context, entity, state string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, entity+"/"+state)
}

func (r *countingRecorder) SetDLQBacklog(_ context.Context, entity string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backlog[entity] = n
}

func (r *countingRecorder) outcome(entity integration.EntityType, outcome string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[entity.String()+"/"+outcome]
}

func (r *countingRecorder) retryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	t           *testing.T
	source      *pagedSource
	loader      *memoryLoader
	catalog     *mapping.Catalog
	validator   *validation.Validator
	checkpoints *filestore.CheckpointStore
	dlq         *filestore.DLQStore
	runs        *filestore.RunStore
	locker      *cache.InMemoryEntityLock
	recorder    *countingRecorder
	logger      *zap.Logger
	logs        *observer.ObservedLogs
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	specs, err := mapping.DefaultSpecs()
	require.NoError(t, err)
	catalog, err := mapping.NewCatalog(specs, transform.NewDefaultRegistry())
	require.NoError(t, err)

	checkpoints, err := filestore.NewCheckpointStore(dir)
	require.NoError(t, err)
	dlq, err := filestore.NewDLQStore(dir, logger)
	require.NoError(t, err)
	runs, err := filestore.NewRunStore(dir, logger)
	require.NoError(t, err)

	return &harness{
		t:           t,
		source:      newPagedSource(),
		loader:      newMemoryLoader(),
		catalog:     catalog,
		validator:   validation.New(nil, validation.DefaultOptions()),
		checkpoints: checkpoints,
		dlq:         dlq,
		runs:        runs,
		locker:      cache.NewInMemoryEntityLock(),
		recorder:    newCountingRecorder(),
		logger:      logger,
		logs:        logs,
		now:         time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		Extractor:   h.source,
		Loader:      h.loader,
		Catalog:     h.catalog,
		Validator:   h.validator,
		Checkpoints: h.checkpoints,
		DLQ:         h.dlq,
		Locker:      h.locker,
		Runs:        h.runs,
	}
}

// testConfig retries without waiting
func testConfig(maxRetries int) Config {
	return Config{
		BatchSize:   2,
		Concurrency: 2,
		Retry: retry.Policy{
			MaxRetries: maxRetries,
			Retryable:  retry.DefaultRetryable,
		},
	}
}

func (h *harness) orchestrator(deps Dependencies, cfg Config) *Orchestrator {
	h.t.Helper()
	o, err := NewOrchestrator(deps, cfg,
		WithLogger(h.logger),
		WithRecorder(h.recorder),
		WithClock(func() time.Time { return h.now }),
	)
	require.NoError(h.t, err)
	return o
}

// ---------------------------------------------------------------------------
// Source records
// ---------------------------------------------------------------------------

func magentoProduct(sku, price string) record.Record {
	return record.Record{
		"id":     json.Number("1"),
		"sku":    sku,
		"name":   "Widget " + sku,
		"price":  json.Number(price),
		"status": "Enabled",
	}
}

func magentoCategory(id, name string) record.Record {
	return record.Record{
		"id":        id,
		"parent_id": "2",
		"name":      name,
		"url_key":   name,
		"is_active": true,
		"position":  json.Number("1"),
	}
}

func magentoCustomer(id, email string) record.Record {
	return record.Record{
		"id":        id,
		"email":     email,
		"firstname": "Ann",
		"lastname":  "Lee",
	}
}

// magentoOrder has one line of 10.00 and 0.80 tax; grandTotal is taken as given
func magentoOrder(increment, email, sku, grandTotal string) record.Record {
	return record.Record{
		"entity_id":           json.Number("7"),
		"increment_id":        increment,
		"customer_email":      email,
		"customer_is_guest":   false,
		"status":              "complete",
		"order_currency_code": "USD",
		"items": []any{
			map[string]any{
				"sku":         sku,
				"name":        "Widget",
				"qty_ordered": json.Number("1"),
				"price":       json.Number("10.00"),
				"row_total":   json.Number("10.00"),
			},
		},
		"tax_amount":      json.Number("0.80"),
		"shipping_amount": json.Number("0"),
		"discount_amount": json.Number("0"),
		"grand_total":     json.Number(grandTotal),
		"billing_address": map[string]any{"city": "Austin", "country_id": "US"},
	}
}
