package criteria

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Recognized top-level keys of a criteria mapping. A mapping with none of
// them is treated as a bare filter.
var recognizedKeys = []string{"where", "limit", "skip", "offset", "order"}

// Criteria is the canonical query descriptor handed to store drivers.
//
// The zero value selects every record in a collection.
type Criteria struct {
	// Where maps a field to a matched value or a modifier sub-expression.
	Where map[string]any `json:"where,omitempty" yaml:"where,omitempty"`

	// Limit caps the number of records; 0 means no limit.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`

	// Skip is the number of leading records to omit (alias: offset).
	Skip int `json:"skip,omitempty" yaml:"skip,omitempty"`

	// Sort lists sort keys in priority order.
	Sort []SortKey `json:"order,omitempty" yaml:"order,omitempty"`
}

// SortKey orders results by one field.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

func (k SortKey) String() string {
	if k.Desc {
		return k.Field + " DESC"
	}
	return k.Field + " ASC"
}

// IsZero reports whether c selects the whole collection without paging.
func (c Criteria) IsZero() bool {
	return len(c.Where) == 0 && c.Limit == 0 && c.Skip == 0 && len(c.Sort) == 0
}

// Clone returns a copy of c that shares no maps or slices with it.
// Nested values inside Where are copied one level deep.
func (c Criteria) Clone() Criteria {
	out := Criteria{Limit: c.Limit, Skip: c.Skip}
	if c.Where != nil {
		out.Where = make(map[string]any, len(c.Where))
		for k, v := range c.Where {
			out.Where[k] = cloneValue(v)
		}
	}
	if c.Sort != nil {
		out.Sort = append([]SortKey(nil), c.Sort...)
	}
	return out
}

// Map renders c as a plain mapping that normalizes back to c.
func (c Criteria) Map() map[string]any {
	m := make(map[string]any, 4)
	if c.Where != nil {
		m["where"] = c.Clone().Where
	}
	if c.Limit > 0 {
		m["limit"] = int64(c.Limit)
	}
	if c.Skip > 0 {
		m["skip"] = int64(c.Skip)
	}
	if len(c.Sort) > 0 {
		parts := make([]string, len(c.Sort))
		for i, k := range c.Sort {
			parts[i] = k.String()
		}
		m["order"] = strings.Join(parts, ", ")
	}
	return m
}

// Normalize converts raw query input into a Criteria.
//
// Accepted input: nil, Criteria or *Criteria, a positive number or numeric
// string (shorthand for an id lookup), or a string-keyed mapping. Anything
// else fails with *InvalidCriteriaError. The input is never modified.
func Normalize(raw any) (Criteria, error) {
	switch v := raw.(type) {
	case nil:
		return Criteria{}, nil
	case Criteria:
		return v.normalize()
	case *Criteria:
		if v == nil {
			return Criteria{}, nil
		}
		return v.normalize()
	case map[string]any:
		return fromMap(v)
	}

	if m, ok := asMap(raw); ok {
		return fromMap(m)
	}
	if n, ok := toNumber(raw); ok && n > 0 {
		return Criteria{Where: map[string]any{"id": numberValue(n)}}, nil
	}
	return Criteria{}, invalid(raw, "expected a mapping, a positive id, or nil")
}

// MustNormalize is like Normalize but panics on error.
// Use only in tests or with literal input.
func MustNormalize(raw any) Criteria {
	c, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Criteria) normalize() (Criteria, error) {
	if c.Limit < 0 {
		return Criteria{}, invalid(c.Limit, "limit must not be negative")
	}
	if c.Skip < 0 {
		return Criteria{}, invalid(c.Skip, "skip must not be negative")
	}
	out := c.Clone()
	out.Where = coerceWhere(out.Where)
	for _, k := range out.Sort {
		if k.Field == "" {
			return Criteria{}, invalid(c.Sort, "sort key without a field")
		}
	}
	return out, nil
}

func fromMap(m map[string]any) (Criteria, error) {
	// nil entries play the role of undefined keys and are dropped before
	// the mapping is interpreted.
	clean := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			clean[k] = v
		}
	}

	if !hasRecognizedKey(clean) {
		return Criteria{Where: coerceWhere(cloneMap(clean))}, nil
	}

	var c Criteria
	if w, ok := clean["where"]; ok {
		where, ok := asMap(w)
		if !ok {
			return Criteria{}, invalid(w, "where must be a mapping")
		}
		c.Where = coerceWhere(cloneMap(where))
	}
	if v, ok := clean["limit"]; ok {
		n, err := toCount("limit", v)
		if err != nil {
			return Criteria{}, err
		}
		c.Limit = n
	}
	if v, ok := clean["offset"]; ok {
		n, err := toCount("offset", v)
		if err != nil {
			return Criteria{}, err
		}
		c.Skip = n
	}
	// skip wins over offset when both are given.
	if v, ok := clean["skip"]; ok {
		n, err := toCount("skip", v)
		if err != nil {
			return Criteria{}, err
		}
		c.Skip = n
	}
	if v, ok := clean["order"]; ok {
		keys, err := parseSort(v)
		if err != nil {
			return Criteria{}, err
		}
		c.Sort = keys
	}
	return c, nil
}

func hasRecognizedKey(m map[string]any) bool {
	for _, k := range recognizedKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// coerceWhere applies the numeric coercion rule to top-level values.
// The map is modified in place; callers pass a private copy.
func coerceWhere(where map[string]any) map[string]any {
	for k, v := range where {
		if n, ok := coercible(v); ok {
			where[k] = n
		}
	}
	return where
}

func parseSort(v any) ([]SortKey, error) {
	switch s := v.(type) {
	case string:
		return parseSortString(s)
	case []SortKey:
		return append([]SortKey(nil), s...), nil
	case []string:
		var keys []SortKey
		for _, part := range s {
			parsed, err := parseSortString(part)
			if err != nil {
				return nil, err
			}
			keys = append(keys, parsed...)
		}
		return keys, nil
	case []any:
		var keys []SortKey
		for _, elem := range s {
			parsed, err := parseSort(elem)
			if err != nil {
				return nil, err
			}
			keys = append(keys, parsed...)
		}
		return keys, nil
	}

	m, ok := asMap(v)
	if !ok {
		return nil, invalid(v, "order must be a string, mapping, or list")
	}
	// Mappings carry no order of their own; fields sort alphabetically.
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	keys := make([]SortKey, 0, len(fields))
	for _, f := range fields {
		desc, err := parseDirection(m[f])
		if err != nil {
			return nil, err
		}
		keys = append(keys, SortKey{Field: f, Desc: desc})
	}
	return keys, nil
}

func parseSortString(s string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 0:
			continue
		case 1:
			keys = append(keys, SortKey{Field: fields[0]})
		case 2:
			desc, err := parseDirection(fields[1])
			if err != nil {
				return nil, err
			}
			keys = append(keys, SortKey{Field: fields[0], Desc: desc})
		default:
			return nil, invalid(s, "malformed order clause %q", part)
		}
	}
	return keys, nil
}

func parseDirection(v any) (bool, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "asc", "ascending":
			return false, nil
		case "desc", "descending":
			return true, nil
		}
	}
	if n, ok := toNumber(v); ok {
		switch n {
		case 1:
			return false, nil
		case -1:
			return true, nil
		}
	}
	return false, invalid(v, "sort direction must be asc, desc, 1 or -1")
}

// asMap converts any string-keyed map to map[string]any.
func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	if rv.IsNil() {
		return nil, true
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// String renders c for logs.
func (c Criteria) String() string {
	return fmt.Sprintf("%v", c.Map())
}
