// Package transform provides the named transformer registry used by mapping
// specifications. Value transformers turn one field value into another;
// global transformers rewrite a whole mapped record.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/erp/commerce-sync/internal/domain/record"
)

var (
	// ErrNotFound is returned for an unregistered transformer name.
	ErrNotFound = errors.New("transform: transformer not found")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("transform: transformer already registered")
	// ErrInvalidValue is returned by transformers that cannot convert their input.
	ErrInvalidValue = errors.New("transform: invalid value")
)

// Func is a pure value transformer.
// Returning a *Warning as the error is non-fatal: the returned value is used.
type Func func(value any) (any, error)

// RecordFunc is a pure whole-record transformer applied after field rules.
// Returning a *Warning as the error is non-fatal: the returned record is used.
type RecordFunc func(r record.Record) (record.Record, error)

// Warning is a non-fatal signal raised by a transformer, e.g. an unknown
// status label that was passed through unchanged.
type Warning struct {
	Transformer string
	Value       string
	Message     string
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s: %s (value %q)", w.Transformer, w.Message, w.Value)
}

// IsWarning reports whether err is a non-fatal transformer warning.
func IsWarning(err error) bool {
	var w *Warning
	return errors.As(err, &w)
}

// Registry maps transformer names to functions. It is populated once at
// startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	values  map[string]Func
	globals map[string]RecordFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		values:  make(map[string]Func),
		globals: make(map[string]RecordFunc),
	}
}

// Register adds a value transformer.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("transform: name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.values[name] = fn
	return nil
}

// RegisterGlobal adds a whole-record transformer.
func (r *Registry) RegisterGlobal(name string, fn RecordFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("transform: name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.globals[name]; exists {
		return fmt.Errorf("%w: global %q", ErrDuplicate, name)
	}
	r.globals[name] = fn
	return nil
}

// Get returns the value transformer registered under name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return fn, nil
}

// GetGlobal returns the whole-record transformer registered under name.
func (r *Registry) GetGlobal(name string) (RecordFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.globals[name]
	if !ok {
		return nil, fmt.Errorf("%w: global %q", ErrNotFound, name)
	}
	return fn, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.values[name]
	return ok
}

func (r *Registry) HasGlobal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.globals[name]
	return ok
}

// Names returns the sorted value transformer names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.values)
}

// GlobalNames returns the sorted whole-record transformer names.
func (r *Registry) GlobalNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.globals)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ForField lifts a value transformer into a global one acting on a top-level
// key. Records without the key are returned unchanged.
func ForField(key string, fn Func) RecordFunc {
	return func(r record.Record) (record.Record, error) {
		v, ok := r[key]
		if !ok {
			return r, nil
		}
		out, err := fn(v)
		if err != nil && !IsWarning(err) {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		r[key] = out
		return r, err
	}
}
