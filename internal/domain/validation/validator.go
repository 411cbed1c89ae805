// Package validation checks mapped records against per-entity business rules
// before they are loaded into the target system.
package validation

import (
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/shopspring/decimal"
)

// Options tune the validator.
type Options struct {
	// Tolerance is the allowed order total mismatch in currency units.
	Tolerance decimal.Decimal
	// MinorUnits is the number of decimal places amounts were scaled by
	// (2 for cents).
	MinorUnits int32
}

// DefaultOptions allows a one cent mismatch on amounts held in cents.
func DefaultOptions() Options {
	return Options{Tolerance: decimal.New(1, -2), MinorUnits: 2}
}

// Validator applies the rule table of each entity. It is safe for concurrent
// use; the ReferenceIndex it consults may be filled while it runs.
type Validator struct {
	tables map[integration.EntityType][]Rule
	scope  Scope
}

// New creates a validator over the built-in rule tables.
func New(refs *ReferenceIndex, opts Options) *Validator {
	if refs == nil {
		refs = NewReferenceIndex()
	}
	return &Validator{
		tables: map[integration.EntityType][]Rule{
			integration.EntityCategory: CategoryRules(),
			integration.EntityProduct:  ProductRules(),
			integration.EntityCustomer: CustomerRules(),
			integration.EntityAddress:  AddressRules(),
			integration.EntityOrder:    OrderRules(),
		},
		scope: Scope{
			Refs:      refs,
			Tolerance: opts.Tolerance.Shift(opts.MinorUnits),
		},
	}
}

// References returns the index referential rules consult.
func (v *Validator) References() *ReferenceIndex {
	return v.scope.Refs
}

// Validate runs every rule of entity against r and collects all violations.
func (v *Validator) Validate(r record.Record, entity integration.EntityType) ValidationResult {
	rules, ok := v.tables[entity]
	if !ok {
		return newResult([]Violation{{
			Rule:    RuleUnknownEntity,
			Message: fmt.Sprintf("no rules for entity %q", entity),
		}})
	}

	var violations []Violation
	for _, rule := range rules {
		violations = append(violations, rule.Check(r, &v.scope)...)
	}
	return newResult(violations)
}

// ---------------------------------------------------------------------------
// Rule tables
// ---------------------------------------------------------------------------

func CategoryRules() []Rule {
	return []Rule{
		Field("title").Required().String().MaxLength(255).Build(),
		Field("handle").Required().String().MaxLength(255).Build(),
		Field("is_active").Bool().Build(),
		Field("rank").Integer().NonNegative().Build(),
	}
}

func ProductRules() []Rule {
	return []Rule{
		Field("title").Required().String().MaxLength(255).Build(),
		Field("handle").String().MaxLength(255).Build(),
		Field("status").String().Build(),
		Field("variants").Required().List().MinItems(1).Build(),
		Field("variants[*].sku").Required().String().MaxLength(64).Build(),
		Field("variants[*].prices").Required().List().MinItems(1).Build(),
		Field("variants[*].prices[*].amount").Required().Integer().NonNegative().Build(),
		Field("variants[*].prices[*].currency_code").Required().String().Length(3, 3).Build(),
		Field("weight").Number().NonNegative().Build(),
		Field("images").List().Build(),
		Field("images[*].url").Required().String().Build(),
	}
}

func CustomerRules() []Rule {
	return []Rule{
		Field("email").Required().Email().Build(),
		Field("first_name").Required().String().MaxLength(255).Build(),
		Field("last_name").Required().String().MaxLength(255).Build(),
		Field("phone").String().MaxLength(64).Build(),
	}
}

func AddressRules() []Rule {
	return []Rule{
		Field("address_key").Required().String().Build(),
		Field("customer_email").Required().Email().Reference(NamespaceCustomerEmail).Build(),
		Field("address_1").Required().String().MaxLength(255).Build(),
		Field("address_2").String().MaxLength(255).Build(),
		Field("city").Required().String().MaxLength(255).Build(),
		Field("postal_code").Required().String().MaxLength(32).Build(),
		Field("country_code").Required().String().Length(2, 2).Build(),
		Field("is_default_billing").Bool().Build(),
		Field("is_default_shipping").Bool().Build(),
	}
}

// OrderRules checks order shape, amounts and references. Discounts are
// signed, so discount_total takes part in the sum without a range check.
func OrderRules() []Rule {
	return []Rule{
		Field("source_order_id").Required().String().Build(),
		Field("email").Required().Email().Reference(NamespaceCustomerEmail).UnlessTrue("metadata.is_guest").Build(),
		Field("currency_code").Required().String().Length(3, 3).Build(),
		Field("billing_address").Required().Map().Build(),
		Field("items").Required().List().MinItems(1).Build(),
		Field("items[*].sku").Required().String().Reference(NamespaceProductSKU).Build(),
		Field("items[*].quantity").Required().Integer().Min(decimal.NewFromInt(1)).Build(),
		Field("items[*].unit_price").Integer().NonNegative().Build(),
		Field("items[*].line_total").Required().Integer().NonNegative().Build(),
		Field("tax_total").Integer().NonNegative().Build(),
		Field("shipping_total").Integer().NonNegative().Build(),
		Field("discount_total").Integer().Build(),
		Field("total").Required().Integer().NonNegative().Build(),
		Sum("items[*].line_total", "tax_total", "shipping_total", "discount_total").Equals("total"),
	}
}
