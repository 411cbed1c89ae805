package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldType is the expected dynamic type of a value.
type FieldType string

const (
	TypeAny     FieldType = ""
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBool    FieldType = "bool"
	TypeList    FieldType = "list"
	TypeMap     FieldType = "map"
	TypeEmail   FieldType = "email"
)

// Scope carries what rules may consult beyond the record itself.
type Scope struct {
	Refs      *ReferenceIndex
	Tolerance decimal.Decimal
}

// Rule checks one aspect of a record and reports every violation it finds.
type Rule interface {
	Check(r record.Record, s *Scope) []Violation
}

// FieldRule validates the value(s) at one path. A path may contain "[*]" to
// apply the rule to every element of a list, e.g. "items[*].sku".
type FieldRule struct {
	Path      string
	Type      FieldType
	Required  bool
	MinLength int
	MaxLength int
	MinItems  int
	MinValue  *decimal.Decimal
	MaxValue  *decimal.Decimal
	OneOf     []string
	Reference Namespace
	// UnlessTrue skips the reference check when the boolean at this path is true.
	UnlessTrue string

	parts  []record.Path
	unless record.Path
}

// FieldRuleBuilder helps build field rules fluently.
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field starts a rule for path.
func Field(path string) *FieldRuleBuilder {
	return &FieldRuleBuilder{rule: FieldRule{Path: path}}
}

func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

func (b *FieldRuleBuilder) String() *FieldRuleBuilder {
	b.rule.Type = TypeString
	return b
}

func (b *FieldRuleBuilder) Number() *FieldRuleBuilder {
	b.rule.Type = TypeNumber
	return b
}

func (b *FieldRuleBuilder) Integer() *FieldRuleBuilder {
	b.rule.Type = TypeInteger
	return b
}

func (b *FieldRuleBuilder) Bool() *FieldRuleBuilder {
	b.rule.Type = TypeBool
	return b
}

func (b *FieldRuleBuilder) List() *FieldRuleBuilder {
	b.rule.Type = TypeList
	return b
}

func (b *FieldRuleBuilder) Map() *FieldRuleBuilder {
	b.rule.Type = TypeMap
	return b
}

func (b *FieldRuleBuilder) Email() *FieldRuleBuilder {
	b.rule.Type = TypeEmail
	return b
}

// MinLength sets the minimum length in characters.
func (b *FieldRuleBuilder) MinLength(n int) *FieldRuleBuilder {
	b.rule.MinLength = n
	return b
}

// MaxLength sets the maximum length in characters.
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

// Length sets both bounds.
func (b *FieldRuleBuilder) Length(min, max int) *FieldRuleBuilder {
	b.rule.MinLength = min
	b.rule.MaxLength = max
	return b
}

// MinItems sets the minimum number of list elements.
func (b *FieldRuleBuilder) MinItems(n int) *FieldRuleBuilder {
	b.rule.MinItems = n
	return b
}

func (b *FieldRuleBuilder) Min(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &v
	return b
}

func (b *FieldRuleBuilder) Max(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MaxValue = &v
	return b
}

// NonNegative rejects values below zero.
func (b *FieldRuleBuilder) NonNegative() *FieldRuleBuilder {
	return b.Min(decimal.Zero)
}

func (b *FieldRuleBuilder) OneOf(values ...string) *FieldRuleBuilder {
	b.rule.OneOf = values
	return b
}

// Reference requires the value to be present in ns of the run's ReferenceIndex.
func (b *FieldRuleBuilder) Reference(ns Namespace) *FieldRuleBuilder {
	b.rule.Reference = ns
	return b
}

func (b *FieldRuleBuilder) UnlessTrue(path string) *FieldRuleBuilder {
	b.rule.UnlessTrue = path
	return b
}

// Build compiles the rule. Rule tables are static, so a malformed path panics.
func (b *FieldRuleBuilder) Build() FieldRule {
	r := b.rule
	for i, part := range strings.Split(r.Path, "[*]") {
		rel := part
		if i > 0 {
			if rel == "" {
				r.parts = append(r.parts, record.Path{})
				continue
			}
			if !strings.HasPrefix(rel, ".") {
				panic(fmt.Sprintf("validation: path %q: wildcard must be followed by '.' or end the path", r.Path))
			}
			rel = rel[1:]
		}
		r.parts = append(r.parts, record.MustParsePath(rel))
	}
	if r.UnlessTrue != "" {
		r.unless = record.MustParsePath(r.UnlessTrue)
	}
	return r
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

type match struct {
	field   string
	value   any
	found   bool
	notList bool
}

// matches expands the rule path against r. A missing list behind a wildcard
// yields no matches; the list's own rule reports its absence.
func (f FieldRule) matches(r record.Record) []match {
	segments := strings.Split(f.Path, "[*]")
	var out []match
	var walk func(base any, name string, i int)
	walk = func(base any, name string, i int) {
		full := name + segments[i]
		var (
			v     any
			found = true
		)
		if f.parts[i].IsZero() {
			v = base
		} else if m, ok := record.AsMap(base); ok {
			v, found = f.parts[i].Get(record.Record(m))
		} else {
			found = false
		}

		if i == len(f.parts)-1 {
			out = append(out, match{field: full, value: v, found: found})
			return
		}
		if !found || v == nil {
			return
		}
		elems, ok := record.AsSlice(v)
		if !ok {
			out = append(out, match{field: full, value: v, found: true, notList: true})
			return
		}
		for j, e := range elems {
			walk(e, fmt.Sprintf("%s[%d]", full, j), i+1)
		}
	}
	walk(r, "", 0)
	return out
}

// Check implements Rule.
func (f FieldRule) Check(r record.Record, s *Scope) []Violation {
	var out []Violation
	for _, m := range f.matches(r) {
		if m.notList {
			out = append(out, Violation{Field: m.field, Rule: RuleType, Message: fmt.Sprintf("expected a list, got %T", m.value)})
			continue
		}
		if !m.found || m.value == nil || isBlank(m.value) {
			if f.Required {
				out = append(out, Violation{Field: m.field, Rule: RuleRequired, Message: "is required"})
			}
			continue
		}
		out = append(out, f.checkValue(r, m.field, m.value, s)...)
	}
	return out
}

func (f FieldRule) checkValue(r record.Record, field string, value any, s *Scope) []Violation {
	if msg := checkType(f.Type, value); msg != "" {
		return []Violation{{Field: field, Rule: RuleType, Message: msg}}
	}

	var out []Violation
	add := func(rule, format string, args ...any) {
		out = append(out, Violation{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if str, ok := value.(string); ok {
		n := utf8.RuneCountInString(str)
		if f.MinLength > 0 && n < f.MinLength {
			add(RuleLength, "must be at least %d characters, got %d", f.MinLength, n)
		}
		if f.MaxLength > 0 && n > f.MaxLength {
			add(RuleLength, "must be at most %d characters, got %d", f.MaxLength, n)
		}
		if len(f.OneOf) > 0 && !slices.Contains(f.OneOf, str) {
			add(RuleOneOf, "must be one of [%s], got %q", strings.Join(f.OneOf, ", "), str)
		}
	}

	if f.MinItems > 0 {
		if elems, ok := record.AsSlice(value); ok && len(elems) < f.MinItems {
			add(RuleLength, "must contain at least %d item(s), got %d", f.MinItems, len(elems))
		}
	}

	if f.MinValue != nil || f.MaxValue != nil {
		if d, ok := toDecimal(value); ok {
			if f.MinValue != nil && d.LessThan(*f.MinValue) {
				add(RuleRange, "must be >= %s, got %s", f.MinValue.String(), d.String())
			}
			if f.MaxValue != nil && d.GreaterThan(*f.MaxValue) {
				add(RuleRange, "must be <= %s, got %s", f.MaxValue.String(), d.String())
			}
		}
	}

	if f.Reference != "" && s != nil && s.Refs != nil && !f.skipReference(r) {
		if str, ok := value.(string); ok {
			if found, populated := s.Refs.Contains(f.Reference, str); populated && !found {
				add(RuleReference, "%q not found among %s seen in this run", str, f.Reference)
			}
		}
	}
	return out
}

func (f FieldRule) skipReference(r record.Record) bool {
	if f.unless.IsZero() {
		return false
	}
	v, ok := f.unless.Get(r)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return isBool && b
}

// ---------------------------------------------------------------------------
// Cross-field sums
// ---------------------------------------------------------------------------

// SumRule checks that the sum of Terms equals Total within the scope's
// tolerance. Terms may use wildcards; missing terms count as zero.
type SumRule struct {
	Terms []FieldRule
	Total FieldRule
}

// Sum starts a cross-field sum over the given paths.
func Sum(terms ...string) SumRule {
	s := SumRule{Terms: make([]FieldRule, len(terms))}
	for i, t := range terms {
		s.Terms[i] = Field(t).Build()
	}
	return s
}

// Equals completes the rule with the path holding the expected total.
func (s SumRule) Equals(total string) SumRule {
	s.Total = Field(total).Build()
	return s
}

// Check implements Rule. Missing or non-numeric values are left to the
// presence and type rules.
func (s SumRule) Check(r record.Record, scope *Scope) []Violation {
	totals := s.Total.matches(r)
	if len(totals) != 1 || !totals[0].found {
		return nil
	}
	total, ok := toDecimal(totals[0].value)
	if !ok {
		return nil
	}

	sum := decimal.Zero
	names := make([]string, 0, len(s.Terms))
	for _, term := range s.Terms {
		names = append(names, term.Path)
		for _, m := range term.matches(r) {
			if !m.found || m.value == nil {
				continue
			}
			d, ok := toDecimal(m.value)
			if !ok {
				return nil
			}
			sum = sum.Add(d)
		}
	}

	tolerance := decimal.Zero
	if scope != nil {
		tolerance = scope.Tolerance
	}
	if sum.Sub(total).Abs().GreaterThan(tolerance) {
		return []Violation{{
			Field: s.Total.Path,
			Rule:  RuleFinancialConsistency,
			Message: fmt.Sprintf("%s sum to %s but total is %s (tolerance %s)",
				strings.Join(names, " + "), sum.String(), total.String(), tolerance.String()),
		}}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Type helpers
// ---------------------------------------------------------------------------

var emailValidator = validator.New()

func checkType(t FieldType, v any) string {
	switch t {
	case TypeAny:
		return ""
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected a string, got %T", v)
		}
	case TypeNumber:
		if _, ok := toDecimal(v); !ok {
			return fmt.Sprintf("expected a number, got %T", v)
		}
	case TypeInteger:
		d, ok := toDecimal(v)
		if !ok || !d.Equal(d.Truncate(0)) {
			return fmt.Sprintf("expected an integer, got %v", v)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected a boolean, got %T", v)
		}
	case TypeList:
		if _, ok := record.AsSlice(v); !ok {
			return fmt.Sprintf("expected a list, got %T", v)
		}
	case TypeMap:
		if _, ok := record.AsMap(v); !ok {
			return fmt.Sprintf("expected a mapping, got %T", v)
		}
	case TypeEmail:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected an email address, got %T", v)
		}
		if err := emailValidator.Var(s, "email"); err != nil {
			return fmt.Sprintf("%q is not a valid email address", s)
		}
	}
	return ""
}

// toDecimal accepts numeric values only. Numeric strings are not numbers here.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt32(t), true
	case int64:
		return decimal.NewFromInt(t), true
	case float32:
		return toDecimal(float64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	}
	return decimal.Zero, false
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
