package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
)

// targetResource describes the admin collection an entity is written to
type targetResource struct {
	path     string
	listKey  string
	itemKey  string
	lookupBy string
}

var targetResources = map[integration.EntityType]targetResource{
	integration.EntityCategory: {path: "product-categories", listKey: "product_categories", itemKey: "product_category", lookupBy: "handle"},
	integration.EntityProduct:  {path: "products", listKey: "products", itemKey: "product", lookupBy: "variants[sku]"},
	integration.EntityCustomer: {path: "customers", listKey: "customers", itemKey: "customer", lookupBy: "email"},
	integration.EntityAddress:  {path: "customer-addresses", listKey: "addresses", itemKey: "address", lookupBy: "address_key"},
	integration.EntityOrder:    {path: "orders", listKey: "orders", itemKey: "order", lookupBy: "source_order_id"},
}

// TargetClient implements integration.Loader against a Medusa style admin
// API. Upsert looks the record up by its stable key, then POSTs an update
// to the existing resource or creates a new one, so replaying a record never
// duplicates it.
type TargetClient struct {
	rest *restClient
}

// NewTargetClient creates a target client
func NewTargetClient(cfg ClientConfig, opts ...Option) (*TargetClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &TargetClient{rest: newRESTClient(cfg, o.httpClient, o.logger)}, nil
}

// Upsert creates or updates r keyed by integration.StableKey.
func (c *TargetClient) Upsert(ctx context.Context, entity integration.EntityType, r record.Record) (*integration.UpsertResult, error) {
	res, ok := targetResources[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownEntity, entity)
	}
	key, err := integration.StableKey(entity, r)
	if err != nil {
		return nil, err
	}

	id, err := c.lookup(ctx, entity, res, key)
	if err != nil {
		return nil, err
	}
	if id != "" {
		if err := c.update(ctx, entity, res, id, r); err != nil {
			return nil, err
		}
		return &integration.UpsertResult{ID: id, Created: false}, nil
	}

	id, err = c.create(ctx, entity, res, r)
	if err != nil {
		// lost a race against another writer of the same key
		var remote *integration.RemoteError
		if errors.As(err, &remote) && remote.StatusCode == http.StatusConflict {
			existing, lookupErr := c.lookup(ctx, entity, res, key)
			if lookupErr == nil && existing != "" {
				if err := c.update(ctx, entity, res, existing, r); err != nil {
					return nil, err
				}
				return &integration.UpsertResult{ID: existing, Created: false}, nil
			}
		}
		return nil, err
	}
	return &integration.UpsertResult{ID: id, Created: true}, nil
}

// Ping reads the admin store resource.
func (c *TargetClient) Ping(ctx context.Context) error {
	return c.rest.do(ctx, "ping target", http.MethodGet, "store", nil, nil, nil)
}

// lookup returns the target id holding key, or "" when none does.
func (c *TargetClient) lookup(ctx context.Context, entity integration.EntityType, res targetResource, key string) (string, error) {
	q := url.Values{}
	q.Set(res.lookupBy, key)
	q.Set("limit", "1")

	var body map[string]json.RawMessage
	if err := c.rest.do(ctx, "lookup "+entity.String(), http.MethodGet, res.path, q, nil, &body); err != nil {
		return "", err
	}
	raw, ok := body[res.listKey]
	if !ok {
		return "", fmt.Errorf("%w: lookup %s: missing %q", integration.ErrInvalidResponse, entity, res.listKey)
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", fmt.Errorf("%w: lookup %s: %v", integration.ErrInvalidResponse, entity, err)
	}
	if len(items) == 0 {
		return "", nil
	}
	return idOf(items[0]), nil
}

func (c *TargetClient) create(ctx context.Context, entity integration.EntityType, res targetResource, r record.Record) (string, error) {
	var body map[string]json.RawMessage
	if err := c.rest.do(ctx, "create "+entity.String(), http.MethodPost, res.path, nil, r, &body); err != nil {
		return "", err
	}
	raw, ok := body[res.itemKey]
	if !ok {
		return "", fmt.Errorf("%w: create %s: missing %q", integration.ErrInvalidResponse, entity, res.itemKey)
	}
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", integration.ErrInvalidResponse, entity, err)
	}
	id := idOf(item)
	if id == "" {
		return "", fmt.Errorf("%w: create %s: response has no id", integration.ErrInvalidResponse, entity)
	}
	return id, nil
}

func (c *TargetClient) update(ctx context.Context, entity integration.EntityType, res targetResource, id string, r record.Record) error {
	path := res.path + "/" + url.PathEscape(id)
	return c.rest.do(ctx, "update "+entity.String(), http.MethodPost, path, nil, r, nil)
}

func idOf(item map[string]any) string {
	v, ok := item["id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

var (
	_ integration.Loader = (*TargetClient)(nil)
	_ integration.Pinger = (*TargetClient)(nil)
)
