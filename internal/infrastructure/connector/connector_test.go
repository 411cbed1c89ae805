package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr error
	}{
		{"valid config", ClientConfig{BaseURL: "https://shop.example.com/rest/V1/", Token: "t"}, nil},
		{"missing base url", ClientConfig{Token: "t"}, ErrConfigMissingBaseURL},
		{"missing token", ClientConfig{BaseURL: "https://shop.example.com"}, ErrConfigMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://shop.example.com/rest/V1", tt.config.BaseURL)
			assert.Equal(t, DefaultTimeout, tt.config.Timeout)
			assert.Equal(t, int64(DefaultMaxResponseBytes), tt.config.MaxResponseBytes)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 2*time.Second, parseRetryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

// ---------------------------------------------------------------------------
// SourceClient Tests
// ---------------------------------------------------------------------------

func newTestSource(t *testing.T, handler http.HandlerFunc) *SourceClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewSourceClient(ClientConfig{BaseURL: server.URL, Token: "source-token"})
	require.NoError(t, err)
	return client
}

func productItem(sku string) map[string]any {
	return map[string]any{
		"sku":   sku,
		"name":  "Product " + sku,
		"price": 19.99,
		"custom_attributes": []any{
			map[string]any{"attribute_code": "url_key", "value": strings.ToLower(sku)},
			map[string]any{"attribute_code": "material", "value": "Cotton"},
		},
	}
}

func TestSourceClient_FetchPage(t *testing.T) {
	all := []map[string]any{productItem("A-1"), productItem("A-2"), productItem("A-3")}

	client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "Bearer source-token", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("searchCriteria[pageSize]"))
		page := q.Get("searchCriteria[currentPage]")

		items := all[:2]
		if page == "2" {
			items = all[2:]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total_count": len(all)})
	})

	ctx := context.Background()
	first, err := client.FetchPage(ctx, integration.EntityProduct, "", integration.Filters{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	require.True(t, first.HasMore())
	assert.Equal(t, "2", *first.NextCursor)

	r := first.Records[0]
	assert.Equal(t, "a-1", r.GetString("custom_attributes.url_key"))
	assert.Equal(t, "Cotton", r.GetString("custom_attributes.material"))
	price, ok := r["price"].(json.Number)
	require.True(t, ok, "numbers are decoded as json.Number")
	assert.Equal(t, "19.99", price.String())

	second, err := client.FetchPage(ctx, integration.EntityProduct, *first.NextCursor, integration.Filters{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.False(t, second.HasMore())
}

func TestSourceClient_UpdatedSinceFilter(t *testing.T) {
	since := time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		const f = "searchCriteria[filter_groups][0][filters][0]"
		assert.Equal(t, "updated_at", q.Get(f+"[field]"))
		assert.Equal(t, "2024-05-01 06:30:00", q.Get(f+"[value]"))
		assert.Equal(t, "gteq", q.Get(f+"[condition_type]"))
		_, _ = w.Write([]byte(`{"items":[],"total_count":0}`))
	})

	page, err := client.FetchPage(context.Background(), integration.EntityOrder, "", integration.Filters{UpdatedSince: &since})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasMore())
}

func TestSourceClient_AddressesFromCustomers(t *testing.T) {
	client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers/search", r.URL.Path)
		_, _ = w.Write([]byte(`{"total_count":2,"items":[
			{"id":7,"email":"jane@example.com","addresses":[
				{"id":70,"street":["1 Main St"],"city":"Springfield"},
				{"id":71,"street":["2 Side St"],"city":"Shelbyville"}]},
			{"id":8,"email":"joe@example.com"}]}`))
	})

	page, err := client.FetchPage(context.Background(), integration.EntityAddress, "", integration.Filters{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "jane@example.com", page.Records[0].GetString("customer_email"))
	assert.Equal(t, "7", page.Records[0].GetString("customer_id"))
	assert.Equal(t, "71", page.Records[1].GetString("id"))
	assert.Equal(t, "2 Side St", page.Records[1].GetString("street[0]"))
}

func TestSourceClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantErr    error
		wantDelay  time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, "3", integration.ErrRateLimited, 3 * time.Second},
		{"server error", http.StatusBadGateway, "", integration.ErrTransientRemote, 0},
		{"unauthorized", http.StatusUnauthorized, "", integration.ErrUnauthorized, 0},
		{"forbidden", http.StatusForbidden, "", integration.ErrUnauthorized, 0},
		{"not found", http.StatusNotFound, "", integration.ErrPermanentRemote, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			_, err := client.FetchPage(context.Background(), integration.EntityCategory, "", integration.Filters{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var remote *integration.RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tt.status, remote.StatusCode)
			assert.Equal(t, tt.wantDelay, remote.RetryAfter)
			assert.Contains(t, remote.Body, "nope")
		})
	}
}

func TestSourceClient_TransportFailures(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"items":[`))
		})
		_, err := client.FetchPage(context.Background(), integration.EntityProduct, "", integration.Filters{})
		assert.ErrorIs(t, err, integration.ErrInvalidResponse)
	})

	t.Run("oversized response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"items":[],"total_count":0,"padding":"` + strings.Repeat("x", 256) + `"}`))
		}))
		defer server.Close()

		client, err := NewSourceClient(ClientConfig{BaseURL: server.URL, Token: "t", MaxResponseBytes: 64})
		require.NoError(t, err)
		_, err = client.FetchPage(context.Background(), integration.EntityProduct, "", integration.Filters{})
		assert.ErrorIs(t, err, integration.ErrInvalidResponse)
	})

	t.Run("connection refused is transient", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		client, err := NewSourceClient(ClientConfig{BaseURL: url, Token: "t", Timeout: time.Second})
		require.NoError(t, err)
		_, err = client.FetchPage(context.Background(), integration.EntityProduct, "", integration.Filters{})
		assert.ErrorIs(t, err, integration.ErrTransientRemote)
		assert.True(t, integration.IsTransient(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"items":[],"total_count":0}`))
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.FetchPage(ctx, integration.EntityProduct, "", integration.Filters{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.FetchPage(context.Background(), integration.EntityProduct, "abc", integration.Filters{})
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})

	t.Run("unknown entity", func(t *testing.T) {
		client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.FetchPage(context.Background(), integration.EntityType("invoice"), "", integration.Filters{})
		assert.ErrorIs(t, err, integration.ErrUnknownEntity)
	})
}

// ---------------------------------------------------------------------------
// TargetClient Tests
// ---------------------------------------------------------------------------

// fakeTarget is an in-memory products admin API.
type fakeTarget struct {
	mu           sync.Mutex
	bySKU        map[string]string
	bodies       map[string]map[string]any
	nextID       int
	creates      int
	updates      int
	conflictOnce bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{bySKU: map[string]string{}, bodies: map[string]map[string]any{}}
}

func (f *fakeTarget) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/products":
		sku := r.URL.Query().Get("variants[sku]")
		products := []map[string]any{}
		if id, ok := f.bySKU[sku]; ok {
			products = append(products, map[string]any{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"products": products})

	case r.Method == http.MethodPost && r.URL.Path == "/products":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		sku := record.Record(body).GetString("variants[0].sku")

		f.nextID++
		id := fmt.Sprintf("prod_%02d", f.nextID)
		f.bySKU[sku] = id
		f.bodies[id] = body
		if f.conflictOnce {
			// another writer created it between lookup and create
			f.conflictOnce = false
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.creates++
		_ = json.NewEncoder(w).Encode(map[string]any{"product": map[string]any{"id": id}})

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/products/"):
		id := strings.TrimPrefix(r.URL.Path, "/products/")
		if _, ok := f.bodies[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.bodies[id] = body
		f.updates++
		_ = json.NewEncoder(w).Encode(map[string]any{"product": map[string]any{"id": id}})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestTarget(t *testing.T, handler http.Handler) *TargetClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewTargetClient(ClientConfig{BaseURL: server.URL, Token: "target-token"})
	require.NoError(t, err)
	return client
}

func productRecord(sku, title string) record.Record {
	return record.Record{
		"title":    title,
		"variants": []any{map[string]any{"sku": sku, "prices": []any{map[string]any{"amount": 1999, "currency_code": "usd"}}}},
	}
}

func TestTargetClient_Upsert(t *testing.T) {
	target := newFakeTarget()
	client := newTestTarget(t, target)
	ctx := context.Background()

	first, err := client.Upsert(ctx, integration.EntityProduct, productRecord("ABC-1", "Shirt"))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "prod_01", first.ID)

	second, err := client.Upsert(ctx, integration.EntityProduct, productRecord("ABC-1", "Shirt v2"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, target.creates)
	assert.Equal(t, 1, target.updates)
	assert.Equal(t, "Shirt v2", target.bodies[first.ID]["title"])
}

func TestTargetClient_UpsertConflictFallsBackToUpdate(t *testing.T) {
	target := newFakeTarget()
	target.conflictOnce = true
	client := newTestTarget(t, target)

	result, err := client.Upsert(context.Background(), integration.EntityProduct, productRecord("RACE-1", "Raced"))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "prod_01", result.ID)
	assert.Equal(t, 1, target.updates)
}

func TestTargetClient_UpsertErrors(t *testing.T) {
	t.Run("missing stable key", func(t *testing.T) {
		client := newTestTarget(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		}))
		_, err := client.Upsert(context.Background(), integration.EntityCustomer, record.Record{"first_name": "Jane"})
		assert.ErrorIs(t, err, integration.ErrMissingStableKey)
	})

	t.Run("validation rejected by target", func(t *testing.T) {
		client := newTestTarget(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(`{"customers":[]}`))
				return
			}
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"email taken"}`))
		}))
		_, err := client.Upsert(context.Background(), integration.EntityCustomer, record.Record{"email": "Jane@Example.com"})
		assert.ErrorIs(t, err, integration.ErrPermanentRemote)
		assert.False(t, integration.IsTransient(err))
	})

	t.Run("lookup envelope missing", func(t *testing.T) {
		client := newTestTarget(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		_, err := client.Upsert(context.Background(), integration.EntityCategory, record.Record{"handle": "shoes"})
		assert.ErrorIs(t, err, integration.ErrInvalidResponse)
	})

	t.Run("lookup uses lowercased email", func(t *testing.T) {
		client := newTestTarget(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				assert.Equal(t, "jane@example.com", r.URL.Query().Get("email"))
				_, _ = w.Write([]byte(`{"customers":[{"id":42}]}`))
				return
			}
			assert.Equal(t, "/customers/42", r.URL.Path)
			_, _ = w.Write([]byte(`{"customer":{"id":42}}`))
		}))
		result, err := client.Upsert(context.Background(), integration.EntityCustomer, record.Record{"email": "Jane@Example.com"})
		require.NoError(t, err)
		assert.Equal(t, "42", result.ID)
		assert.False(t, result.Created)
	})
}

// ---------------------------------------------------------------------------
// FakeSource Tests
// ---------------------------------------------------------------------------

func drain(t *testing.T, src integration.Extractor, entity integration.EntityType, filters integration.Filters) []record.Record {
	t.Helper()
	var out []record.Record
	cursor := ""
	for {
		page, err := src.FetchPage(context.Background(), entity, cursor, filters)
		require.NoError(t, err)
		out = append(out, page.Records...)
		if !page.HasMore() {
			return out
		}
		cursor = *page.NextCursor
	}
}

func TestFakeSource_Deterministic(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a := NewFakeSource(FakeSourceConfig{Seed: 7, Records: 20, Now: now})
	b := NewFakeSource(FakeSourceConfig{Seed: 7, Records: 20, Now: now})

	for _, entity := range integration.DependencyOrder() {
		assert.Equal(t,
			drain(t, a, entity, integration.Filters{PageSize: 6}),
			drain(t, b, entity, integration.Filters{PageSize: 6}),
			"entity %s", entity)
	}
	assert.Equal(t, 3, a.Count(integration.EntityCategory))
	assert.Equal(t, 20, a.Count(integration.EntityProduct))
	assert.GreaterOrEqual(t, a.Count(integration.EntityAddress), 20)
}

func TestFakeSource_Pagination(t *testing.T) {
	src := NewFakeSource(FakeSourceConfig{Seed: 1, Records: 25})

	records := drain(t, src, integration.EntityProduct, integration.Filters{PageSize: 10})
	assert.Len(t, records, 25)

	skus := map[string]bool{}
	for _, r := range records {
		skus[r.GetString("sku")] = true
	}
	assert.Len(t, skus, 25, "every product is returned once")

	page, err := src.FetchPage(context.Background(), integration.EntityProduct, "9", integration.Filters{PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasMore())
}

func TestFakeSource_UpdatedSince(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	src := NewFakeSource(FakeSourceConfig{Seed: 3, Records: 40, Now: now})
	since := now.Add(-10 * 24 * time.Hour)

	recent := drain(t, src, integration.EntityCustomer, integration.Filters{UpdatedSince: &since})
	assert.Less(t, len(recent), 40)
	for _, r := range recent {
		ts, err := time.Parse(sourceTimeLayout, r.GetString("updated_at"))
		require.NoError(t, err)
		assert.False(t, ts.Before(since))
	}
}

func TestFakeSource_OrdersAreConsistent(t *testing.T) {
	src := NewFakeSource(FakeSourceConfig{Seed: 11, Records: 30})

	products := map[string]bool{}
	for _, p := range drain(t, src, integration.EntityProduct, integration.Filters{}) {
		products[p.GetString("sku")] = true
	}

	for _, o := range drain(t, src, integration.EntityOrder, integration.Filters{}) {
		items, ok := record.AsSlice(o["items"])
		require.True(t, ok)
		require.NotEmpty(t, items)

		sum := decimal.Zero
		for _, it := range items {
			m, _ := record.AsMap(it)
			assert.True(t, products[record.Record(m).GetString("sku")])
			row, err := decimal.NewFromString(record.Record(m).GetString("row_total"))
			require.NoError(t, err)
			sum = sum.Add(row)
		}
		for _, field := range []string{"tax_amount", "shipping_amount", "discount_amount"} {
			v, err := decimal.NewFromString(o.GetString(field))
			require.NoError(t, err)
			sum = sum.Add(v)
		}
		total, err := decimal.NewFromString(o.GetString("grand_total"))
		require.NoError(t, err)
		assert.True(t, sum.Equal(total), "order %s: %s != %s", o.GetString("increment_id"), sum, total)
		assert.NotEmpty(t, o.GetString("billing_address.city"))
	}
}

func TestFakeSource_BrokenRecords(t *testing.T) {
	src := NewFakeSource(FakeSourceConfig{Seed: 5, Records: 10, BrokenEvery: 5})

	missing := 0
	for _, p := range drain(t, src, integration.EntityProduct, integration.Filters{}) {
		if _, ok := p["price"]; !ok {
			missing++
		}
	}
	assert.Equal(t, 2, missing)
}

func TestFakeSource_ReturnsCopies(t *testing.T) {
	src := NewFakeSource(FakeSourceConfig{Seed: 2, Records: 5})
	page, err := src.FetchPage(context.Background(), integration.EntityCustomer, "", integration.Filters{})
	require.NoError(t, err)
	email := page.Records[0].GetString("email")
	page.Records[0]["email"] = "changed@example.com"

	again, err := src.FetchPage(context.Background(), integration.EntityCustomer, "", integration.Filters{})
	require.NoError(t, err)
	assert.Equal(t, email, again.Records[0].GetString("email"))
}

func TestNewExtractor(t *testing.T) {
	fake, err := NewExtractor(config.SourceConfig{Driver: "fake", FakeSeed: 1, FakeRecords: 5})
	require.NoError(t, err)
	assert.IsType(t, &FakeSource{}, fake)

	httpSource, err := NewExtractor(config.SourceConfig{Driver: "http", BaseURL: "https://shop.example.com/rest/V1", Token: "t"})
	require.NoError(t, err)
	assert.IsType(t, &SourceClient{}, httpSource)

	_, err = NewExtractor(config.SourceConfig{Driver: "http"})
	assert.ErrorIs(t, err, ErrConfigMissingBaseURL)

	_, err = NewExtractor(config.SourceConfig{Driver: "ftp"})
	assert.Error(t, err)

	_, err = NewLoader(config.TargetConfig{BaseURL: "https://admin.example.com", Token: "t"})
	require.NoError(t, err)
}

func TestPing(t *testing.T) {
	t.Run("source sends the token to the store config endpoint", func(t *testing.T) {
		var gotPath, gotAuth string
		client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`[{"id":1,"code":"default"}]`))
		})

		require.NoError(t, client.Ping(context.Background()))
		assert.Equal(t, "/store/storeConfigs", gotPath)
		assert.Equal(t, "Bearer source-token", gotAuth)
	})

	t.Run("source rejects a bad token", func(t *testing.T) {
		client := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		assert.ErrorIs(t, client.Ping(context.Background()), integration.ErrUnauthorized)
	})

	t.Run("target", func(t *testing.T) {
		var gotPath string
		client := newTestTarget(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			if r.Header.Get("Authorization") != "Bearer target-token" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte(`{"store":{"id":"store_01"}}`))
		}))

		require.NoError(t, client.Ping(context.Background()))
		assert.Equal(t, "/store", gotPath)
	})

	t.Run("target unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		client, err := NewTargetClient(ClientConfig{BaseURL: server.URL, Token: "t"})
		require.NoError(t, err)

		assert.ErrorIs(t, client.Ping(context.Background()), integration.ErrTransientRemote)
	})

	t.Run("fake source", func(t *testing.T) {
		assert.NoError(t, NewFakeSource(FakeSourceConfig{Seed: 1, Records: 3}).Ping(context.Background()))
	})
}
