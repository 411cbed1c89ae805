package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	xtransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Built-in transformer names.
const (
	StripWhitespace      = "strip_whitespace"
	PriceToCents         = "price_to_cents"
	CleanHTMLDescription = "clean_html_description"
	NormalizeStatus      = "normalize_status"
	MapMaterialType      = "map_material_type"
	Slugify              = "slugify"
	CleanSKU             = "clean_sku"
	ToBoolean            = "to_boolean"
	ToInteger            = "to_integer"
	Lowercase            = "lowercase"
	Truncate255          = "truncate_255"
	DropNulls            = "drop_nulls"
)

// UnknownMaterial is the fallback label of map_material_type.
const UnknownMaterial = "unknown"

// NewDefaultRegistry returns a registry holding every built-in transformer.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	values := map[string]Func{
		StripWhitespace:      stripWhitespace,
		PriceToCents:         priceToCents,
		CleanHTMLDescription: cleanHTMLDescription,
		NormalizeStatus:      normalizeStatus,
		MapMaterialType:      mapMaterialType,
		Slugify:              slugify,
		CleanSKU:             cleanSKU,
		ToBoolean:            toBoolean,
		ToInteger:            toInteger,
		Lowercase:            lowercase,
		Truncate255:          truncate(255),
	}
	for name, fn := range values {
		_ = r.Register(name, fn)
	}

	_ = r.RegisterGlobal(NormalizeStatus, ForField("status", normalizeStatus))
	_ = r.RegisterGlobal(CleanHTMLDescription, ForField("description", cleanHTMLDescription))
	_ = r.RegisterGlobal(DropNulls, dropNulls)
	return r
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

func stripWhitespace(v any) (any, error) {
	if v == nil {
		return "", nil
	}
	return strings.TrimSpace(asString(v)), nil
}

func lowercase(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return strings.ToLower(strings.TrimSpace(asString(v))), nil
}

func truncate(limit int) Func {
	const suffix = "..."
	return func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		s := asString(v)
		if utf8.RuneCountInString(s) <= limit {
			return s, nil
		}
		r := []rune(s)
		return string(r[:limit-len(suffix)]) + suffix, nil
	}
}

var (
	slugSeparators = regexp.MustCompile(`[\s_]+`)
	slugInvalid    = regexp.MustCompile(`[^a-z0-9\-]`)
	slugDashes     = regexp.MustCompile(`-+`)
)

// slugify lowercases, folds accents and keeps [a-z0-9-].
func slugify(v any) (any, error) {
	if v == nil {
		return "", nil
	}
	folder := xtransform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := xtransform.String(folder, asString(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugSeparators.ReplaceAllString(s, "-")
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-"), nil
}

var (
	skuSpaces  = regexp.MustCompile(`\s+`)
	skuInvalid = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
)

func cleanSKU(v any) (any, error) {
	if v == nil {
		return "", nil
	}
	s := skuSpaces.ReplaceAllString(strings.TrimSpace(asString(v)), " ")
	return skuInvalid.ReplaceAllString(s, ""), nil
}

// blockTags end a line of text when stripping markup.
var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// cleanHTMLDescription strips markup and keeps the readable text, one line per
// block element. Script and style content is dropped.
func cleanHTMLDescription(v any) (any, error) {
	if v == nil {
		return "", nil
	}
	src := asString(v)
	if !strings.ContainsAny(src, "<&") {
		return strings.TrimSpace(src), nil
	}

	var b strings.Builder
	skip := 0
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, z.Err())
			}
			return collapseLines(b.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && tt == html.StartTagToken {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// statusLabels maps source platform status labels to target labels.
// Products use enabled/disabled (or 1/2), orders use the source order states.
var statusLabels = map[string]string{
	"enabled":         "published",
	"1":               "published",
	"published":       "published",
	"disabled":        "draft",
	"2":               "draft",
	"draft":           "draft",
	"pending":         "pending",
	"pending_payment": "pending",
	"processing":      "pending",
	"new":             "pending",
	"holded":          "requires_action",
	"payment_review":  "requires_action",
	"complete":        "completed",
	"completed":       "completed",
	"closed":          "archived",
	"canceled":        "canceled",
	"cancelled":       "canceled",
}

// normalizeStatus maps a source status label to the target label. Unknown
// labels pass through unchanged together with a *Warning.
func normalizeStatus(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	label := strings.ToLower(strings.TrimSpace(asString(v)))
	if mapped, ok := statusLabels[label]; ok {
		return mapped, nil
	}
	return v, &Warning{
		Transformer: NormalizeStatus,
		Value:       asString(v),
		Message:     "unknown status label passed through",
	}
}

var materialTypes = map[string]string{
	"cotton":         "cotton",
	"100% cotton":    "cotton",
	"organic cotton": "cotton",
	"polyester":      "synthetic",
	"nylon":          "synthetic",
	"acrylic":        "synthetic",
	"faux leather":   "synthetic",
	"leather":        "leather",
	"suede":          "leather",
	"wool":           "wool",
	"merino":         "wool",
	"cashmere":       "wool",
	"silk":           "silk",
	"linen":          "linen",
	"metal":          "metal",
	"steel":          "metal",
	"aluminum":       "metal",
	"wood":           "wood",
	"bamboo":         "wood",
	"plastic":        "plastic",
	"glass":          "glass",
	"ceramic":        "ceramic",
}

func mapMaterialType(v any) (any, error) {
	if v == nil {
		return UnknownMaterial, nil
	}
	if mapped, ok := materialTypes[strings.ToLower(strings.TrimSpace(asString(v)))]; ok {
		return mapped, nil
	}
	return UnknownMaterial, nil
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// priceToCents converts a decimal price into integer minor units, rounding
// half away from zero. Negative prices are returned as-is for the validator
// to reject.
func priceToCents(v any) (any, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, err
	}
	cents, err := toInt64(d.Mul(decimal.NewFromInt(100)).Round(0))
	if err != nil {
		return nil, err
	}
	return cents, nil
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// toInt64 converts a whole decimal, rejecting values IntPart would wrap.
func toInt64(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return 0, fmt.Errorf("%w: %s is out of the int64 range", ErrInvalidValue, d.String())
	}
	return d.IntPart(), nil
}

func toInteger(v any) (any, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, err
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s is not an integer", ErrInvalidValue, d.String())
	}
	n, err := toInt64(d)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func toBoolean(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case nil:
		return false, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1", "y", "on":
			return true, nil
		default:
			return false, nil
		}
	default:
		d, err := toDecimal(v)
		if err != nil {
			return false, nil
		}
		return !d.IsZero(), nil
	}
}

// toDecimal accepts numeric values and numeric strings.
func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int32:
		return decimal.NewFromInt32(t), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not numeric", ErrInvalidValue, t)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not numeric", ErrInvalidValue, t)
		}
		return d, nil
	case nil:
		return decimal.Zero, fmt.Errorf("%w: null is not numeric", ErrInvalidValue)
	default:
		return decimal.Zero, fmt.Errorf("%w: %T is not numeric", ErrInvalidValue, v)
	}
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func dropNulls(r record.Record) (record.Record, error) {
	for k, v := range r {
		if v == nil {
			delete(r, k)
		}
	}
	return r, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
