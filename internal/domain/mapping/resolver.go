package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/domain/transform"
)

// Resolution is the outcome of mapping one source record.
type Resolution struct {
	Record record.Record
	// Warnings are non-fatal transformer signals, e.g. unknown status labels.
	Warnings []string
}

// Resolver applies one compiled MappingSpec to source records.
// It holds no per-record state and is safe for concurrent use.
type Resolver struct {
	spec    *MappingSpec
	rules   []compiledRule
	globals []compiledGlobal
}

type compiledRule struct {
	rule      FieldRule
	source    record.Path
	target    record.Path
	transform transform.Func
	each      []compiledRule
}

type compiledGlobal struct {
	name string
	fn   transform.RecordFunc
}

// NewResolver validates spec against registry and compiles it. Unknown
// entities, malformed or duplicate target paths and unknown transformer names
// fail here with ErrConfiguration, never per record.
func NewResolver(spec *MappingSpec, registry *transform.Registry) (*Resolver, error) {
	if spec == nil {
		return nil, configError("nil mapping spec")
	}
	if !spec.Entity.IsValid() {
		return nil, configError("unknown entity %q", spec.Entity)
	}
	if registry == nil {
		return nil, configError("nil transformer registry")
	}

	rules, err := compileRules(spec.Entity, spec.Fields, registry, "")
	if err != nil {
		return nil, err
	}

	globals := make([]compiledGlobal, 0, len(spec.GlobalTransformers))
	for _, name := range spec.GlobalTransformers {
		fn, err := registry.GetGlobal(name)
		if err != nil {
			return nil, configError("%s: global transformer %q: %v", spec.Entity, name, err)
		}
		globals = append(globals, compiledGlobal{name: name, fn: fn})
	}

	return &Resolver{spec: spec, rules: rules, globals: globals}, nil
}

func compileRules(entity integration.EntityType, fields []FieldRule, registry *transform.Registry, scope string) ([]compiledRule, error) {
	if len(fields) == 0 {
		return nil, configError("%s: %sno field rules", entity, scope)
	}

	rules := make([]compiledRule, 0, len(fields))
	targets := make([]string, 0, len(fields))
	for i, f := range fields {
		where := fmt.Sprintf("%s: %sfields[%d]", entity, scope, i)

		src, err := record.ParsePath(f.ReadPath())
		if err != nil {
			return nil, configError("%s: source: %v", where, err)
		}
		dst, err := record.ParsePath(f.TargetField)
		if err != nil {
			return nil, configError("%s: target: %v", where, err)
		}

		canonical := canonicalPath(dst)
		for _, existing := range targets {
			switch {
			case existing == canonical:
				return nil, configError("%s: duplicate target path %q", where, f.TargetField)
			case strings.HasPrefix(canonical, existing+"."), strings.HasPrefix(canonical, existing+"["),
				strings.HasPrefix(existing, canonical+"."), strings.HasPrefix(existing, canonical+"["):
				return nil, configError("%s: target path %q overlaps %q", where, f.TargetField, existing)
			}
		}
		targets = append(targets, canonical)

		cr := compiledRule{rule: f, source: src, target: dst}
		if f.Transformer != "" {
			fn, err := registry.Get(f.Transformer)
			if err != nil {
				return nil, configError("%s: transformer %q: %v", where, f.Transformer, err)
			}
			cr.transform = fn
		}
		if len(f.Each) > 0 {
			if f.Transformer != "" {
				return nil, configError("%s: a rule with nested rules cannot also declare a transformer", where)
			}
			cr.each, err = compileRules(entity, f.Each, registry, f.TargetField+"[*].")
			if err != nil {
				return nil, err
			}
		}
		rules = append(rules, cr)
	}
	return rules, nil
}

func canonicalPath(p record.Path) string {
	var b strings.Builder
	for i, seg := range p.Segments() {
		if seg.Kind == record.KeySegment && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

// Entity returns the entity the resolver maps.
func (r *Resolver) Entity() integration.EntityType {
	return r.spec.Entity
}

// Spec returns the mapping specification the resolver was compiled from.
func (r *Resolver) Spec() *MappingSpec {
	return r.spec
}

// Resolve maps one source record. Missing required values and transformer
// failures are reported as *MappingError.
func (r *Resolver) Resolve(src record.Record) (*Resolution, error) {
	res := &Resolution{}

	out, err := applyRules(r.rules, src, "", res)
	if err != nil {
		return nil, err
	}

	for _, g := range r.globals {
		next, err := g.fn(out)
		if err != nil {
			var w *transform.Warning
			if !errors.As(err, &w) {
				return nil, &MappingError{Kind: KindTransformFailed, Field: g.name, Cause: err}
			}
			res.Warnings = append(res.Warnings, w.Error())
		}
		if next != nil {
			out = next
		}
	}

	res.Record = out
	return res, nil
}

func applyRules(rules []compiledRule, src record.Record, prefix string, res *Resolution) (record.Record, error) {
	out := record.Record{}
	for _, cr := range rules {
		field := prefix + cr.rule.ReadPath()

		value, found := cr.source.Get(src)
		if !found {
			switch {
			case cr.rule.HasDefault:
				value = record.CloneValue(cr.rule.Default)
			case cr.rule.Required:
				return nil, &MappingError{Kind: KindMissingRequiredField, Field: field}
			default:
				continue
			}
		} else {
			value = record.CloneValue(value)
		}

		if len(cr.each) > 0 {
			items, err := applyEach(cr, value, field, res)
			if err != nil {
				return nil, err
			}
			value = items
		} else if cr.transform != nil {
			transformed, err := cr.transform(value)
			if err != nil {
				var w *transform.Warning
				if !errors.As(err, &w) {
					return nil, &MappingError{Kind: KindTransformFailed, Field: field, Cause: err}
				}
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", field, w.Error()))
			}
			value = transformed
		}

		if err := cr.target.Set(out, value); err != nil {
			return nil, &MappingError{Kind: KindTransformFailed, Field: field, Cause: err}
		}
	}
	return out, nil
}

func applyEach(cr compiledRule, value any, field string, res *Resolution) ([]any, error) {
	if value == nil {
		return []any{}, nil
	}
	elems, ok := record.AsSlice(value)
	if !ok {
		return nil, &MappingError{
			Kind:  KindTransformFailed,
			Field: field,
			Cause: fmt.Errorf("%w: expected a sequence, got %T", transform.ErrInvalidValue, value),
		}
	}

	items := make([]any, 0, len(elems))
	for i, elem := range elems {
		m, ok := record.AsMap(elem)
		if !ok {
			return nil, &MappingError{
				Kind:  KindTransformFailed,
				Field: fmt.Sprintf("%s[%d]", field, i),
				Cause: fmt.Errorf("%w: expected a mapping, got %T", transform.ErrInvalidValue, elem),
			}
		}
		item, err := applyRules(cr.each, record.Record(m), fmt.Sprintf("%s[%d].", field, i), res)
		if err != nil {
			return nil, err
		}
		items = append(items, map[string]any(item))
	}
	return items, nil
}
