package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/shopspring/decimal"
)

// FakeSourceConfig configures the generated catalogue
type FakeSourceConfig struct {
	// Seed makes the data reproducible; 0 picks a random seed.
	Seed int64
	// Records is the number of products, customers and orders. Categories
	// are a tenth of it, at least three.
	Records int
	// Now anchors updated_at values, which spread over the 30 days before it.
	Now time.Time
	// BrokenEvery corrupts every n-th product (no price) and order (total off
	// by one unit) so demos exercise the dead letter queue. 0 disables it.
	BrokenEvery int
}

type fakeItem struct {
	rec       record.Record
	updatedAt time.Time
}

// FakeSource implements integration.Extractor over a generated, internally
// consistent Magento shaped catalogue: products link to categories, orders
// reference product SKUs and customer emails and their totals add up.
type FakeSource struct {
	data map[integration.EntityType][]fakeItem
}

// NewFakeSource generates the catalogue up front.
func NewFakeSource(cfg FakeSourceConfig) *FakeSource {
	if cfg.Records <= 0 {
		cfg.Records = 100
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}
	g := &fakeGenerator{
		f:   gofakeit.New(uint64(cfg.Seed)),
		cfg: cfg,
		now: cfg.Now.UTC().Truncate(time.Second),
	}
	return &FakeSource{data: g.generate()}
}

// Count returns how many records of entity the source holds.
func (s *FakeSource) Count(entity integration.EntityType) int {
	return len(s.data[entity])
}

// FetchPage pages through the generated records with the same page-number
// cursor as SourceClient.
func (s *FakeSource) FetchPage(ctx context.Context, entity integration.EntityType, cursor string, filters integration.Filters) (*integration.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, ok := s.data[entity]
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

	matched := items
	if filters.UpdatedSince != nil {
		matched = make([]fakeItem, 0, len(items))
		for _, it := range items {
			if !it.updatedAt.Before(*filters.UpdatedSince) {
				matched = append(matched, it)
			}
		}
	}

	start := (page - 1) * pageSize
	result := &integration.Page{Records: []record.Record{}}
	if start >= len(matched) {
		return result, nil
	}
	end := min(start+pageSize, len(matched))
	for _, it := range matched[start:end] {
		result.Records = append(result.Records, it.rec.Clone())
	}
	if end < len(matched) {
		next := strconv.Itoa(page + 1)
		result.NextCursor = &next
	}
	return result, nil
}

// Ping always succeeds; the catalogue lives in memory.
func (s *FakeSource) Ping(context.Context) error { return nil }

var (
	_ integration.Extractor = (*FakeSource)(nil)
	_ integration.Pinger    = (*FakeSource)(nil)
)

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

type fakeGenerator struct {
	f   *gofakeit.Faker
	cfg FakeSourceConfig
	now time.Time
}

func (g *fakeGenerator) generate() map[integration.EntityType][]fakeItem {
	categories := g.categories(max(3, g.cfg.Records/10))
	products := g.products(g.cfg.Records, categories)
	customers := g.customers(g.cfg.Records)
	orders := g.orders(g.cfg.Records, products, customers)

	var addresses []fakeItem
	for _, c := range customers {
		for _, a := range customerAddresses([]map[string]any{c.rec}) {
			addresses = append(addresses, fakeItem{rec: a, updatedAt: c.updatedAt})
		}
	}

	return map[integration.EntityType][]fakeItem{
		integration.EntityCategory: categories,
		integration.EntityProduct:  products,
		integration.EntityCustomer: customers,
		integration.EntityAddress:  addresses,
		integration.EntityOrder:    orders,
	}
}

func (g *fakeGenerator) updatedAt() time.Time {
	return g.f.DateRange(g.now.Add(-30*24*time.Hour), g.now).UTC().Truncate(time.Second)
}

func (g *fakeGenerator) broken(i int) bool {
	return g.cfg.BrokenEvery > 0 && (i+1)%g.cfg.BrokenEvery == 0
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func urlKey(parts ...string) string {
	s := strings.ToLower(strings.Join(parts, "-"))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), "-")
}

func (g *fakeGenerator) categories(n int) []fakeItem {
	out := make([]fakeItem, 0, n)
	for i := 0; i < n; i++ {
		id := i + 3
		name := g.f.ProductCategory()
		ts := g.updatedAt()
		out = append(out, fakeItem{updatedAt: ts, rec: record.Record{
			"id":         json.Number(strconv.Itoa(id)),
			"parent_id":  json.Number("2"),
			"name":       name,
			"url_key":    urlKey(name, strconv.Itoa(id)),
			"is_active":  i%7 != 6,
			"position":   json.Number(strconv.Itoa(i + 1)),
			"level":      json.Number("2"),
			"updated_at": ts.Format(sourceTimeLayout),
		}})
	}
	return out
}

func (g *fakeGenerator) products(n int, categories []fakeItem) []fakeItem {
	out := make([]fakeItem, 0, n)
	for i := 0; i < n; i++ {
		sku := fmt.Sprintf("SKU-%05d", i+1)
		name := g.f.ProductName()
		category := categories[g.f.Number(0, len(categories)-1)].rec
		status := 1
		if g.f.Number(1, 10) == 10 {
			status = 2
		}
		ts := g.updatedAt()

		r := record.Record{
			"id":     json.Number(strconv.Itoa(i + 1)),
			"sku":    sku,
			"name":   name,
			"price":  amount(decimal.NewFromFloat(g.f.Price(5, 500))),
			"status": status,
			"weight": amount(decimal.NewFromFloat(g.f.Float64Range(0.1, 20))),
			"custom_attributes": []any{
				map[string]any{"attribute_code": "url_key", "value": urlKey(name, sku)},
				map[string]any{"attribute_code": "description", "value": "<p>" + g.f.ProductDescription() + "</p>"},
				map[string]any{"attribute_code": "material", "value": g.f.ProductMaterial()},
			},
			"extension_attributes": map[string]any{
				"category_links": []any{
					map[string]any{"category_id": category["id"], "position": json.Number("0")},
				},
			},
			"media_gallery_entries": []any{
				map[string]any{"file": fmt.Sprintf("https://media.example.test/catalog/product/%s.jpg", strings.ToLower(sku)), "media_type": "image"},
			},
			"updated_at": ts.Format(sourceTimeLayout),
		}
		if g.broken(i) {
			delete(r, "price")
		}
		out = append(out, fakeItem{rec: r, updatedAt: ts})
	}
	return out
}

func (g *fakeGenerator) customers(n int) []fakeItem {
	out := make([]fakeItem, 0, n)
	nextAddress := 1
	for i := 0; i < n; i++ {
		id := i + 1
		first, last := g.f.FirstName(), g.f.LastName()
		email := fmt.Sprintf("%s%d@example.com", strings.ReplaceAll(urlKey(first, last), "-", "."), id)
		ts := g.updatedAt()

		count := g.f.Number(1, 2)
		addresses := make([]any, 0, count)
		for j := 0; j < count; j++ {
			addresses = append(addresses, map[string]any{
				"id":               json.Number(strconv.Itoa(nextAddress)),
				"customer_id":      json.Number(strconv.Itoa(id)),
				"firstname":        first,
				"lastname":         last,
				"street":           []any{g.f.Street()},
				"city":             g.f.City(),
				"postcode":         g.f.Zip(),
				"country_id":       "US",
				"region":           map[string]any{"region_code": g.f.StateAbr()},
				"telephone":        g.f.Phone(),
				"default_billing":  j == 0,
				"default_shipping": j == 0,
			})
			nextAddress++
		}

		out = append(out, fakeItem{updatedAt: ts, rec: record.Record{
			"id":         json.Number(strconv.Itoa(id)),
			"email":      email,
			"firstname":  first,
			"lastname":   last,
			"group_id":   json.Number("1"),
			"addresses":  addresses,
			"updated_at": ts.Format(sourceTimeLayout),
		}})
	}
	return out
}

var fakeOrderStates = []string{"pending", "processing", "complete", "complete", "closed", "canceled"}

func (g *fakeGenerator) orders(n int, products, customers []fakeItem) []fakeItem {
	out := make([]fakeItem, 0, n)
	for i := 0; i < n; i++ {
		customer := customers[g.f.Number(0, len(customers)-1)].rec
		guest := g.f.Number(1, 10) == 10
		email := customer["email"]
		if guest {
			email = fmt.Sprintf("guest%d@example.com", i+1)
		}

		subtotal := decimal.Zero
		lines := g.f.Number(1, 3)
		items := make([]any, 0, lines)
		for j := 0; j < lines; j++ {
			p := products[g.f.Number(0, len(products)-1)].rec
			price, ok := p["price"].(json.Number)
			if !ok {
				price = amount(decimal.NewFromInt(10))
			}
			unit, _ := decimal.NewFromString(price.String())
			qty := g.f.Number(1, 4)
			row := unit.Mul(decimal.NewFromInt(int64(qty)))
			subtotal = subtotal.Add(row)
			items = append(items, map[string]any{
				"sku":         p["sku"],
				"name":        p["name"],
				"qty_ordered": json.Number(strconv.Itoa(qty)),
				"price":       price,
				"row_total":   amount(row),
			})
		}

		tax := subtotal.Mul(decimal.NewFromFloat(0.08)).Round(2)
		shipping := decimal.Zero
		if g.f.Bool() {
			shipping = decimal.NewFromFloat(9.99)
		}
		discount := decimal.Zero
		if g.f.Number(1, 4) == 4 {
			discount = subtotal.Mul(decimal.NewFromFloat(0.1)).Round(2).Neg()
		}
		total := subtotal.Add(tax).Add(shipping).Add(discount)
		if g.broken(i) {
			total = total.Add(decimal.NewFromInt(1))
		}

		billing, _ := record.AsSlice(customer["addresses"])
		billingAddress := map[string]any{}
		if len(billing) > 0 {
			if m, ok := record.AsMap(billing[0]); ok {
				billingAddress = map[string]any(record.Record(m).Clone())
			}
		}
		billingAddress["email"] = email

		ts := g.updatedAt()
		out = append(out, fakeItem{updatedAt: ts, rec: record.Record{
			"entity_id":           json.Number(strconv.Itoa(i + 1)),
			"increment_id":        fmt.Sprintf("%09d", 100000001+i),
			"customer_email":      email,
			"customer_is_guest":   guest,
			"status":              fakeOrderStates[g.f.Number(0, len(fakeOrderStates)-1)],
			"order_currency_code": "USD",
			"items":               items,
			"tax_amount":          amount(tax),
			"shipping_amount":     amount(shipping),
			"discount_amount":     amount(discount),
			"grand_total":         amount(total),
			"billing_address":     billingAddress,
			"created_at":          ts.Add(-time.Hour).Format(sourceTimeLayout),
			"updated_at":          ts.Format(sourceTimeLayout),
		}})
	}
	return out
}
