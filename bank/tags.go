/*
Package bank implements the tag-indexed ledger core.

PURPOSE:
  Accounts in this system are not identified by a single key but by an
  arbitrary set of typed attributes ("tags"). Every balance change is an
  append-only signed delta recorded against a tag-set; the current balance
  for a tag-set is a materialized aggregate maintained asynchronously by
  the backing store.

KEY CONCEPTS IN THIS FILE (tags.go):
  - TagValue: A typed tag value (string, int, float, or bool)
  - TagSet:   The composite account key (name -> TagValue, order-free)
  - Schema:   The declared name -> kind mapping tags must conform to

DESIGN PRINCIPLES:
  1. Tag-sets are opaque composite keys: equality is "exactly the same
     name -> value pairs", nothing else.
  2. Typing is declared, not inferred: values coming from the outside
     (JSON, YAML) are coerced against the Schema, never type-sniffed.
  3. Fingerprints are canonical: two equal tag-sets always produce the
     same fingerprint string, usable as a cache or aggregation key.

SEE ALSO:
  - transaction.go: The ledger entry recorded against a tag-set
  - service.go:     Operations keyed by tag-sets
*/
package bank

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// TAG VALUE - Tagged variant (string | int | float | bool)
// =============================================================================

type TagKind string

const (
	KindString TagKind = "string"
	KindInt    TagKind = "int"
	KindFloat  TagKind = "float"
	KindBool   TagKind = "bool"
)

// TagValue is a typed tag value. Exactly one of the value fields is
// meaningful, selected by Kind. Construct via the typed helpers.
type TagValue struct {
	Kind  TagKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func StringTag(v string) TagValue  { return TagValue{Kind: KindString, Str: v} }
func IntTag(v int64) TagValue      { return TagValue{Kind: KindInt, Int: v} }
func FloatTag(v float64) TagValue  { return TagValue{Kind: KindFloat, Float: v} }
func BoolTag(v bool) TagValue      { return TagValue{Kind: KindBool, Bool: v} }

// Equal reports whether two tag values have the same kind and payload.
func (v TagValue) Equal(o TagValue) bool {
	return v == o
}

// Raw returns the underlying value, for JSON encoding and store documents.
func (v TagValue) Raw() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	}
	return nil
}

func (v TagValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// =============================================================================
// TAG SET - Composite account key
// =============================================================================

// TagSet maps tag names to typed values. Two tag-sets identify the same
// account iff they contain exactly the same name -> value pairs.
type TagSet map[string]TagValue

func (t TagSet) Equal(o TagSet) bool {
	if len(t) != len(o) {
		return false
	}
	for name, v := range t {
		ov, ok := o[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Fingerprint returns a canonical string representation of the tag-set.
// Equal tag-sets produce identical fingerprints, so the result is safe to
// use as a map key, a cache key, or a GROUP BY key in an embedded store.
func (t TagSet) Fingerprint() string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(';')
		}
		v := t[name]
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(string(v.Kind))
		sb.WriteByte(':')
		sb.WriteString(v.String())
	}
	return sb.String()
}

// Raw returns the tag-set as plain name -> value pairs, for JSON encoding
// and store documents.
func (t TagSet) Raw() map[string]any {
	raw := make(map[string]any, len(t))
	for name, v := range t {
		raw[name] = v.Raw()
	}
	return raw
}

func (t TagSet) String() string {
	return "{" + t.Fingerprint() + "}"
}

// =============================================================================
// SCHEMA - Declared tag typing
// =============================================================================

// Schema declares which tag names exist and what kind each one carries.
// It is fixed at configuration load; operations validate tag-sets against
// it instead of inspecting value types at runtime.
type Schema map[string]TagKind

// Validate checks that every tag in the set is declared and carries the
// declared kind.
func (s Schema) Validate(tags TagSet) error {
	for name, v := range tags {
		kind, ok := s[name]
		if !ok {
			return &SchemaError{Field: name, Reason: "tag not declared in schema"}
		}
		if v.Kind != kind {
			return &SchemaError{
				Field:  name,
				Reason: fmt.Sprintf("expected %s value, got %s", kind, v.Kind),
			}
		}
	}
	return nil
}

// Coerce converts plain decoded values (as produced by encoding/json:
// string, float64, bool) into a typed TagSet according to the schema.
// Integer-kinded tags accept JSON numbers with no fractional part.
func (s Schema) Coerce(raw map[string]any) (TagSet, error) {
	tags := make(TagSet, len(raw))
	for name, value := range raw {
		kind, ok := s[name]
		if !ok {
			return nil, &SchemaError{Field: name, Reason: "tag not declared in schema"}
		}
		switch kind {
		case KindString:
			v, ok := value.(string)
			if !ok {
				return nil, &SchemaError{Field: name, Reason: "expected string value"}
			}
			tags[name] = StringTag(v)
		case KindInt:
			switch v := value.(type) {
			case float64:
				if v != float64(int64(v)) {
					return nil, &SchemaError{Field: name, Reason: "expected integer value"}
				}
				tags[name] = IntTag(int64(v))
			case int:
				tags[name] = IntTag(int64(v))
			case int64:
				tags[name] = IntTag(v)
			default:
				return nil, &SchemaError{Field: name, Reason: "expected integer value"}
			}
		case KindFloat:
			switch v := value.(type) {
			case float64:
				tags[name] = FloatTag(v)
			case int:
				tags[name] = FloatTag(float64(v))
			default:
				return nil, &SchemaError{Field: name, Reason: "expected numeric value"}
			}
		case KindBool:
			v, ok := value.(bool)
			if !ok {
				return nil, &SchemaError{Field: name, Reason: "expected boolean value"}
			}
			tags[name] = BoolTag(v)
		}
	}
	return tags, nil
}
