package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPath is returned when parsing an empty path.
	ErrEmptyPath = errors.New("record: empty path")
	// ErrMalformedPath is returned for syntactically invalid paths.
	ErrMalformedPath = errors.New("record: malformed path")
	// ErrPathConflict is returned when Set meets a node of the wrong shape.
	ErrPathConflict = errors.New("record: path conflicts with existing value")
)

// SegmentKind distinguishes map keys from sequence indices.
type SegmentKind int

const (
	// KeySegment addresses a key in a mapping.
	KeySegment SegmentKind = iota
	// IndexSegment addresses a position in a sequence.
	IndexSegment
)

// Segment is one step of a Path.
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

func (s Segment) String() string {
	if s.Kind == IndexSegment {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// Path is a parsed dot/bracket path such as "variants[0].prices[0].amount".
// The zero value is not usable; build paths with ParsePath.
type Path struct {
	raw      string
	segments []Segment
}

// ParsePath parses a dot/bracket path. The first segment must be a key.
func ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return Path{}, ErrEmptyPath
	}

	var segs []Segment
	n := len(s)
	i := 0
	for i < n {
		switch c := s[i]; c {
		case '[':
			if len(segs) == 0 {
				return Path{}, malformed(s, "path must start with a key")
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Path{}, malformed(s, "unclosed bracket")
			}
			idx, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || idx < 0 {
				return Path{}, malformed(s, "index must be a non-negative integer")
			}
			segs = append(segs, Segment{Kind: IndexSegment, Index: idx})
			i += end + 1
			if i < n && s[i] != '[' && s[i] != '.' {
				return Path{}, malformed(s, "unexpected character after index")
			}
		case '.':
			if len(segs) == 0 || i+1 >= n || s[i+1] == '.' || s[i+1] == '[' {
				return Path{}, malformed(s, "empty segment")
			}
			i++
		case ']':
			return Path{}, malformed(s, "unbalanced bracket")
		default:
			start := i
			for i < n && s[i] != '.' && s[i] != '[' && s[i] != ']' {
				i++
			}
			segs = append(segs, Segment{Kind: KeySegment, Key: s[start:i]})
		}
	}

	return Path{raw: s, segments: segs}, nil
}

// MustParsePath is like ParsePath but panics on error.
// Intended for package-level path tables.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func malformed(path, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedPath, path, reason)
}

// String returns the path as originally written.
func (p Path) String() string {
	return p.raw
}

// IsZero reports whether the path was never parsed.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// Segments returns a copy of the parsed segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Get reads the value at the path. A missing intermediate node, an index out of
// range or a node of the wrong shape all report absent.
func (p Path) Get(r Record) (any, bool) {
	if p.IsZero() || r == nil {
		return nil, false
	}
	var node any = map[string]any(r)
	for _, seg := range p.segments {
		switch seg.Kind {
		case KeySegment:
			m, ok := AsMap(node)
			if !ok {
				return nil, false
			}
			node, ok = m[seg.Key]
			if !ok {
				return nil, false
			}
		case IndexSegment:
			s, ok := AsSlice(node)
			if !ok || seg.Index >= len(s) {
				return nil, false
			}
			node = s[seg.Index]
		}
	}
	return node, true
}

// Set writes v at the path, creating intermediate mappings and sequences.
// Index segments create or extend a sequence, padding gaps with nil.
func (p Path) Set(r Record, v any) error {
	if p.IsZero() {
		return ErrEmptyPath
	}
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrPathConflict)
	}
	_, err := setNode(map[string]any(r), p.segments, v, p.raw)
	return err
}

func setNode(node any, segs []Segment, v any, raw string) (any, error) {
	if len(segs) == 0 {
		return v, nil
	}
	seg := segs[0]

	switch seg.Kind {
	case KeySegment:
		var m map[string]any
		if node == nil {
			m = map[string]any{}
		} else {
			var ok bool
			if m, ok = AsMap(node); !ok {
				return nil, fmt.Errorf("%w: %q: %q is not a mapping", ErrPathConflict, raw, seg.Key)
			}
		}
		child, err := setNode(m[seg.Key], segs[1:], v, raw)
		if err != nil {
			return nil, err
		}
		m[seg.Key] = child
		if node == nil {
			return m, nil
		}
		return node, nil

	default:
		var s []any
		if node != nil {
			var ok bool
			if s, ok = AsSlice(node); !ok {
				return nil, fmt.Errorf("%w: %q: index %d into a non-sequence", ErrPathConflict, raw, seg.Index)
			}
		}
		for len(s) <= seg.Index {
			s = append(s, nil)
		}
		child, err := setNode(s[seg.Index], segs[1:], v, raw)
		if err != nil {
			return nil, err
		}
		s[seg.Index] = child
		return s, nil
	}
}
