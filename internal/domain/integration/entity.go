package integration

import (
	"fmt"
	"strings"

	"github.com/erp/commerce-sync/internal/domain/record"
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType identifies one of the migratable entity kinds
type EntityType string

const (
	// EntityCategory represents product categories (collections on the target)
	EntityCategory EntityType = "category"
	// EntityProduct represents catalog products
	EntityProduct EntityType = "product"
	// EntityCustomer represents customer accounts
	EntityCustomer EntityType = "customer"
	// EntityAddress represents customer-owned addresses
	EntityAddress EntityType = "address"
	// EntityOrder represents sales orders
	EntityOrder EntityType = "order"
)

// DependencyOrder returns all entity types in the order a full migration runs them.
// Products reference categories, orders reference products and customers,
// addresses are owned by customers.
func DependencyOrder() []EntityType {
	return []EntityType{
		EntityCategory,
		EntityProduct,
		EntityCustomer,
		EntityAddress,
		EntityOrder,
	}
}

// IsValid returns true if the entity type is one of the supported kinds
func (e EntityType) IsValid() bool {
	switch e {
	case EntityCategory, EntityProduct, EntityCustomer, EntityAddress, EntityOrder:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (e EntityType) String() string {
	return string(e)
}

// Plural returns the collection name used by REST endpoints
func (e EntityType) Plural() string {
	switch e {
	case EntityCategory:
		return "categories"
	case EntityAddress:
		return "addresses"
	default:
		return string(e) + "s"
	}
}

// ParseEntityType parses a case-insensitive entity name, accepting plural forms.
func ParseEntityType(s string) (EntityType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, e := range DependencyOrder() {
		if name == e.String() || name == e.Plural() {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
}

// ---------------------------------------------------------------------------
// Stable keys
// ---------------------------------------------------------------------------

// stableKeyPaths lists, per entity, the candidate target paths carrying the
// external identifier the loader upserts on. The first non-empty one wins.
var stableKeyPaths = map[EntityType][]record.Path{
	EntityCategory: {record.MustParsePath("handle")},
	EntityProduct:  {record.MustParsePath("sku"), record.MustParsePath("variants[0].sku")},
	EntityCustomer: {record.MustParsePath("email")},
	EntityAddress:  {record.MustParsePath("address_key")},
	EntityOrder:    {record.MustParsePath("source_order_id"), record.MustParsePath("metadata.source_order_id")},
}

// StableKey returns the external identifier of a mapped record: the category
// handle, product SKU, customer email, address key or source order id.
func StableKey(entity EntityType, r record.Record) (string, error) {
	paths, ok := stableKeyPaths[entity]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	for _, p := range paths {
		v, found := p.Get(r)
		if !found || v == nil {
			continue
		}
		key := strings.TrimSpace(fmt.Sprint(v))
		if key != "" {
			if entity == EntityCustomer {
				key = strings.ToLower(key)
			}
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s record has no stable key", ErrMissingStableKey, entity)
}
