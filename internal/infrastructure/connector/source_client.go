package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"go.uber.org/zap"
)

// ErrInvalidCursor is returned for a cursor the source client did not issue
var ErrInvalidCursor = errors.New("connector: invalid page cursor")

// sourceTimeLayout is the timestamp format of searchCriteria filters
const sourceTimeLayout = "2006-01-02 15:04:05"

const sourcePingPath = "store/storeConfigs"

// sourceEndpoints maps each entity onto its search endpoint. Addresses have no
// endpoint of their own and are read from customer pages.
var sourceEndpoints = map[integration.EntityType]string{
	integration.EntityCategory: "categories/list",
	integration.EntityProduct:  "products",
	integration.EntityCustomer: "customers/search",
	integration.EntityAddress:  "customers/search",
	integration.EntityOrder:    "orders",
}

// searchResponse is the envelope of every search endpoint
type searchResponse struct {
	Items      []map[string]any `json:"items"`
	TotalCount int              `json:"total_count"`
}

// Option configures a platform client
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// WithHTTPClient replaces the default client, e.g. to add tracing transport
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SourceClient implements integration.Extractor against a Magento style REST
// API: searchCriteria page/pageSize pagination, an updated_at filter for
// delta runs and a bearer integration token.
//
// The cursor is the next page number. Pages are fetched until
// page*pageSize reaches total_count.
type SourceClient struct {
	rest *restClient
}

// NewSourceClient creates a source client
func NewSourceClient(cfg ClientConfig, opts ...Option) (*SourceClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &SourceClient{rest: newRESTClient(cfg, o.httpClient, o.logger)}, nil
}

// FetchPage reads one page of entity records.
func (c *SourceClient) FetchPage(ctx context.Context, entity integration.EntityType, cursor string, filters integration.Filters) (*integration.Page, error) {
	endpoint, ok := sourceEndpoints[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownEntity, entity)
	}

	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		page = n
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var resp searchResponse
	op := "fetch " + entity.Plural()
	if err := c.rest.do(ctx, op, http.MethodGet, endpoint, searchQuery(page, pageSize, filters.UpdatedSince), nil, &resp); err != nil {
		return nil, err
	}

	result := &integration.Page{Records: normalizeItems(entity, resp.Items)}
	if len(resp.Items) > 0 && page*pageSize < resp.TotalCount {
		next := strconv.Itoa(page + 1)
		result.NextCursor = &next
	}
	return result, nil
}

// Ping reads the store configuration, which any valid integration token may
// access.
func (c *SourceClient) Ping(ctx context.Context) error {
	return c.rest.do(ctx, "ping source", http.MethodGet, sourcePingPath, nil, nil, nil)
}

func searchQuery(page, pageSize int, since *time.Time) url.Values {
	q := url.Values{}
	q.Set("searchCriteria[currentPage]", strconv.Itoa(page))
	q.Set("searchCriteria[pageSize]", strconv.Itoa(pageSize))
	if since != nil {
		const f = "searchCriteria[filter_groups][0][filters][0]"
		q.Set(f+"[field]", "updated_at")
		q.Set(f+"[value]", since.UTC().Format(sourceTimeLayout))
		q.Set(f+"[condition_type]", "gteq")
	}
	return q
}

// normalizeItems converts raw items into records. custom_attributes lists are
// flattened into a code to value mapping so mapping paths can address them.
func normalizeItems(entity integration.EntityType, items []map[string]any) []record.Record {
	if entity == integration.EntityAddress {
		return customerAddresses(items)
	}
	out := make([]record.Record, 0, len(items))
	for _, item := range items {
		r := record.Record(item)
		flattenCustomAttributes(r)
		out = append(out, r)
	}
	return out
}

// customerAddresses emits every address of every customer, tagged with the
// owner's email and id.
func customerAddresses(customers []map[string]any) []record.Record {
	var out []record.Record
	for _, customer := range customers {
		addresses, ok := record.AsSlice(customer["addresses"])
		if !ok {
			continue
		}
		for _, a := range addresses {
			m, ok := record.AsMap(a)
			if !ok {
				continue
			}
			r := record.Record(m).Clone()
			r["customer_email"] = customer["email"]
			if _, has := r["customer_id"]; !has {
				r["customer_id"] = customer["id"]
			}
			out = append(out, r)
		}
	}
	return out
}

func flattenCustomAttributes(r record.Record) {
	attrs, ok := record.AsSlice(r["custom_attributes"])
	if !ok {
		return
	}
	flat := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m, ok := record.AsMap(a)
		if !ok {
			continue
		}
		code, ok := m["attribute_code"].(string)
		if !ok || code == "" {
			continue
		}
		flat[code] = m["value"]
	}
	r["custom_attributes"] = flat
}

var (
	_ integration.Extractor = (*SourceClient)(nil)
	_ integration.Pinger    = (*SourceClient)(nil)
)
