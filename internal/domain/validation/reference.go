package validation

import (
	"strings"
	"sync"
)

// Namespace names a set of identifiers observed during a run.
type Namespace string

const (
	NamespaceProductSKU    Namespace = "product_sku"
	NamespaceCustomerEmail Namespace = "customer_email"
)

func (n Namespace) normalize(v string) string {
	v = strings.TrimSpace(v)
	if n == NamespaceCustomerEmail {
		return strings.ToLower(v)
	}
	return v
}

// ReferenceIndex records identifiers seen earlier in a run so that later
// entities can be checked against them. A namespace nobody populated is
// unknown rather than empty, and references into it are not checked.
//
// Safe for concurrent use.
type ReferenceIndex struct {
	mu     sync.RWMutex
	values map[Namespace]map[string]struct{}
}

func NewReferenceIndex() *ReferenceIndex {
	return &ReferenceIndex{values: make(map[Namespace]map[string]struct{})}
}

// MarkPopulated declares ns as known, even if no value is ever added.
func (i *ReferenceIndex) MarkPopulated(ns Namespace) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.values[ns]; !ok {
		i.values[ns] = make(map[string]struct{})
	}
}

// Add records values under ns and marks it populated. Blank values are ignored.
func (i *ReferenceIndex) Add(ns Namespace, values ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	set, ok := i.values[ns]
	if !ok {
		set = make(map[string]struct{}, len(values))
		i.values[ns] = set
	}
	for _, v := range values {
		if v = ns.normalize(v); v != "" {
			set[v] = struct{}{}
		}
	}
}

// Contains reports whether v was recorded under ns, and whether ns was
// populated at all.
func (i *ReferenceIndex) Contains(ns Namespace, v string) (found, populated bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	set, ok := i.values[ns]
	if !ok {
		return false, false
	}
	_, found = set[ns.normalize(v)]
	return found, true
}

func (i *ReferenceIndex) Populated(ns Namespace) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.values[ns]
	return ok
}

func (i *ReferenceIndex) Len(ns Namespace) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.values[ns])
}

// Reset forgets every namespace.
func (i *ReferenceIndex) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.values = make(map[Namespace]map[string]struct{})
}
