package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrder() record.Record {
	return record.Record{
		"source_order_id": "100000001",
		"email":           "jane@example.com",
		"currency_code":   "usd",
		"billing_address": map[string]any{"city": "Berlin"},
		"items": []any{
			map[string]any{"sku": "ABC-1", "quantity": int64(2), "unit_price": int64(1000), "line_total": int64(2000)},
			map[string]any{"sku": "XYZ-9", "quantity": int64(1), "unit_price": int64(499), "line_total": int64(499)},
		},
		"tax_total":      int64(300),
		"shipping_total": int64(500),
		"discount_total": int64(0),
		"total":          int64(3299),
	}
}

func validProduct() record.Record {
	return record.Record{
		"title":  "Widget",
		"handle": "widget",
		"status": "published",
		"variants": []any{
			map[string]any{
				"sku":    "ABC-1",
				"prices": []any{map[string]any{"amount": int64(1999), "currency_code": "usd"}},
			},
		},
	}
}

func violationFields(res ValidationResult) []string {
	out := make([]string, len(res.Violations))
	for i, v := range res.Violations {
		out[i] = v.Field
	}
	return out
}

func TestValidator_ValidRecords(t *testing.T) {
	v := New(nil, DefaultOptions())

	tests := []struct {
		entity integration.EntityType
		rec    record.Record
	}{
		{integration.EntityCategory, record.Record{"title": "Shoes", "handle": "shoes", "is_active": true, "rank": 3}},
		{integration.EntityProduct, validProduct()},
		{integration.EntityCustomer, record.Record{"email": "jane@example.com", "first_name": "Jane", "last_name": "Doe"}},
		{integration.EntityAddress, record.Record{
			"address_key": "12", "customer_email": "jane@example.com", "address_1": "Main St 1",
			"city": "Berlin", "postal_code": "10115", "country_code": "DE",
		}},
		{integration.EntityOrder, validOrder()},
	}

	for _, tt := range tests {
		t.Run(tt.entity.String(), func(t *testing.T) {
			res := v.Validate(tt.rec, tt.entity)
			assert.True(t, res.Valid, "%v", res.Violations)
			assert.Empty(t, res.Violations)
			assert.NoError(t, res.Err(tt.entity))
		})
	}
}

func TestValidator_CollectsAllViolations(t *testing.T) {
	v := New(nil, DefaultOptions())

	res := v.Validate(record.Record{
		"title": 42,
		"variants": []any{
			map[string]any{"prices": []any{map[string]any{"amount": int64(-5), "currency_code": "usd"}}},
		},
	}, integration.EntityProduct)

	require.False(t, res.Valid)
	assert.ElementsMatch(t, []string{"title", "variants[0].sku", "variants[0].prices[0].amount"}, violationFields(res))
	assert.True(t, res.HasRule(RuleType))
	assert.True(t, res.HasRule(RuleRequired))
	assert.True(t, res.HasRule(RuleRange))
}

func TestValidator_NegativePriceRejected(t *testing.T) {
	v := New(nil, DefaultOptions())
	rec := validProduct()
	require.NoError(t, record.MustParsePath("variants[0].prices[0].amount").Set(rec, int64(-1)))

	res := v.Validate(rec, integration.EntityProduct)
	require.False(t, res.Valid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleRange, res.Violations[0].Rule)
}

func TestValidator_OrderSum(t *testing.T) {
	v := New(nil, DefaultOptions())

	tests := []struct {
		name  string
		total int64
		valid bool
	}{
		{"exact", 3299, true},
		{"within one cent", 3300, true},
		{"one cent under", 3298, true},
		{"two cents off", 3301, false},
		{"way off", 5000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validOrder()
			rec["total"] = tt.total
			res := v.Validate(rec, integration.EntityOrder)
			assert.Equal(t, tt.valid, res.Valid, "%v", res.Violations)
			if !tt.valid {
				assert.True(t, res.HasRule(RuleFinancialConsistency))
			}
		})
	}
}

func TestValidator_OrderSumWithDiscount(t *testing.T) {
	v := New(nil, DefaultOptions())
	rec := validOrder()
	rec["discount_total"] = int64(-299)
	rec["total"] = int64(3000)

	res := v.Validate(rec, integration.EntityOrder)
	assert.True(t, res.Valid, "%v", res.Violations)
}

func TestValidator_OrderSumTolerance(t *testing.T) {
	v := New(nil, Options{Tolerance: decimal.Zero, MinorUnits: 2})
	rec := validOrder()
	rec["total"] = int64(3300)

	res := v.Validate(rec, integration.EntityOrder)
	assert.False(t, res.Valid)
	assert.True(t, res.HasRule(RuleFinancialConsistency))
}

func TestValidator_OrderPrerequisites(t *testing.T) {
	v := New(nil, DefaultOptions())

	t.Run("empty items", func(t *testing.T) {
		rec := validOrder()
		rec["items"] = []any{}
		rec["total"] = int64(800)
		res := v.Validate(rec, integration.EntityOrder)
		require.False(t, res.Valid)
		assert.Equal(t, []string{"items"}, violationFields(res))
		assert.Equal(t, RuleLength, res.Violations[0].Rule)
	})

	t.Run("missing billing address", func(t *testing.T) {
		rec := validOrder()
		delete(rec, "billing_address")
		res := v.Validate(rec, integration.EntityOrder)
		assert.Equal(t, []string{"billing_address"}, violationFields(res))
	})

	t.Run("item without sku", func(t *testing.T) {
		rec := validOrder()
		items, _ := record.AsSlice(rec["items"])
		delete(items[1].(map[string]any), "sku")
		res := v.Validate(rec, integration.EntityOrder)
		assert.Equal(t, []string{"items[1].sku"}, violationFields(res))
	})

	t.Run("items is not a list", func(t *testing.T) {
		rec := validOrder()
		rec["items"] = "many"
		res := v.Validate(rec, integration.EntityOrder)
		require.False(t, res.Valid)
		assert.True(t, res.HasRule(RuleType))
	})
}

func TestValidator_References(t *testing.T) {
	refs := NewReferenceIndex()
	v := New(refs, DefaultOptions())

	t.Run("unpopulated namespace is not checked", func(t *testing.T) {
		res := v.Validate(validOrder(), integration.EntityOrder)
		assert.True(t, res.Valid, "%v", res.Violations)
	})

	refs.Add(NamespaceProductSKU, "ABC-1")
	refs.Add(NamespaceCustomerEmail, "Jane@Example.com")

	t.Run("unknown sku", func(t *testing.T) {
		res := v.Validate(validOrder(), integration.EntityOrder)
		require.False(t, res.Valid)
		assert.Equal(t, []string{"items[1].sku"}, violationFields(res))
		assert.Equal(t, RuleReference, res.Violations[0].Rule)
	})

	refs.Add(NamespaceProductSKU, "XYZ-9")

	t.Run("known references", func(t *testing.T) {
		res := v.Validate(validOrder(), integration.EntityOrder)
		assert.True(t, res.Valid, "%v", res.Violations)
	})

	t.Run("unknown customer", func(t *testing.T) {
		rec := validOrder()
		rec["email"] = "ghost@example.com"
		res := v.Validate(rec, integration.EntityOrder)
		assert.Equal(t, []string{"email"}, violationFields(res))
	})

	t.Run("guest order skips customer check", func(t *testing.T) {
		rec := validOrder()
		rec["email"] = "ghost@example.com"
		rec["metadata"] = map[string]any{"is_guest": true}
		res := v.Validate(rec, integration.EntityOrder)
		assert.True(t, res.Valid, "%v", res.Violations)
	})

	t.Run("populated but empty namespace fails", func(t *testing.T) {
		empty := NewReferenceIndex()
		empty.MarkPopulated(NamespaceCustomerEmail)
		res := New(empty, DefaultOptions()).Validate(record.Record{
			"address_key": "1", "customer_email": "jane@example.com", "address_1": "Main St 1",
			"city": "Berlin", "postal_code": "10115", "country_code": "DE",
		}, integration.EntityAddress)
		assert.Equal(t, []string{"customer_email"}, violationFields(res))
	})
}

func TestValidator_Types(t *testing.T) {
	v := New(nil, DefaultOptions())

	res := v.Validate(record.Record{
		"email":      "not-an-email",
		"first_name": "  ",
		"last_name":  "Doe",
		"phone":      12345,
	}, integration.EntityCustomer)

	require.False(t, res.Valid)
	assert.ElementsMatch(t, []string{"email", "first_name", "phone"}, violationFields(res))
}

func TestValidator_UnknownEntity(t *testing.T) {
	res := New(nil, DefaultOptions()).Validate(record.Record{}, "invoice")
	assert.False(t, res.Valid)
	assert.True(t, res.HasRule(RuleUnknownEntity))
}

func TestError(t *testing.T) {
	res := New(nil, DefaultOptions()).Validate(record.Record{}, integration.EntityCustomer)
	err := res.Err(integration.EntityCustomer)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrInvalid))
	var vErr *Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, integration.EntityCustomer, vErr.Entity)
	assert.Len(t, vErr.Result.Violations, 3)
	assert.Contains(t, err.Error(), "email: is required")
}

func TestFieldRuleBuilder_PanicsOnBadWildcard(t *testing.T) {
	assert.Panics(t, func() { Field("items[*]sku").Build() })
}

func TestReferenceIndex_Concurrent(t *testing.T) {
	idx := NewReferenceIndex()
	assert.False(t, idx.Populated(NamespaceProductSKU))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.Add(NamespaceProductSKU, "SKU-"+string(rune('A'+i)), " ")
			idx.Contains(NamespaceProductSKU, "SKU-A")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, idx.Len(NamespaceProductSKU))
	found, populated := idx.Contains(NamespaceProductSKU, " SKU-C ")
	assert.True(t, found)
	assert.True(t, populated)

	idx.Reset()
	assert.False(t, idx.Populated(NamespaceProductSKU))
}
