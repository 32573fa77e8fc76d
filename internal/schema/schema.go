package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Canonical attribute types. Drivers map these to their storage types.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeJSON     = "json"
	TypeBinary   = "binary"
)

// Default field names added by Prepare.
const (
	DefaultPrimaryKey = "id"
	CreatedAtField    = "createdAt"
	UpdatedAtField    = "updatedAt"
)

var typeAliases = map[string]string{
	"string":    TypeString,
	"str":       TypeString,
	"text":      TypeString,
	"integer":   TypeInteger,
	"int":       TypeInteger,
	"float":     TypeFloat,
	"double":    TypeFloat,
	"number":    TypeFloat,
	"real":      TypeFloat,
	"boolean":   TypeBoolean,
	"bool":      TypeBoolean,
	"date":      TypeDate,
	"datetime":  TypeDatetime,
	"timestamp": TypeDatetime,
	"json":      TypeJSON,
	"array":     TypeJSON,
	"object":    TypeJSON,
	"binary":    TypeBinary,
	"blob":      TypeBinary,
	"bytes":     TypeBinary,
}

// CanonicalType resolves a declared type name (case-insensitive, aliases
// allowed) to its canonical form.
func CanonicalType(name string) (string, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Attribute is the structured field descriptor handed to drivers.
type Attribute struct {
	Type          string `json:"type" yaml:"type"`
	PrimaryKey    bool   `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty" yaml:"autoIncrement,omitempty"`
}

func (a Attribute) String() string {
	s := a.Type
	if a.PrimaryKey {
		s += " primary key"
	}
	if a.AutoIncrement {
		s += " autoincrement"
	}
	return s
}

// Schema maps field names to structured descriptors.
type Schema map[string]Attribute

// Names returns field names with primary keys first, then alphabetical.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := s[names[i]].PrimaryKey, s[names[j]].PrimaryKey
		if pi != pj {
			return pi
		}
		return names[i] < names[j]
	})
	return names
}

// PrimaryKeys returns the names of all primary-key fields, sorted.
func (s Schema) PrimaryKeys() []string {
	var keys []string
	for n, a := range s {
		if a.PrimaryKey {
			keys = append(keys, n)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Collection is a declared model: its identity and raw attribute
// descriptors. A descriptor is a shorthand type name, an Attribute, or a
// mapping with type/primaryKey/autoIncrement keys.
type Collection struct {
	Identity   string
	Attributes map[string]any
}

// Policy holds the global timestamp switches.
type Policy struct {
	CreatedAt bool
	UpdatedAt bool
}

// Prepare normalizes a declared collection into the schema a driver
// receives. It never mutates c.
//
// Shorthand descriptors become structured ones. When no attribute is marked
// primary, "id" becomes an auto-incrementing integer primary key (an
// existing unmarked "id" is promoted and keeps its declared type). Enabled
// timestamp fields are added as datetimes unless already declared.
func Prepare(c Collection, p Policy) (Schema, error) {
	if c.Identity == "" {
		return nil, fmt.Errorf("prepare: collection identity is required")
	}

	out := make(Schema, len(c.Attributes)+3)
	for name, raw := range c.Attributes {
		attr, err := normalizeAttribute(raw)
		if err != nil {
			return nil, &AttributeError{Collection: c.Identity, Attribute: name, Err: err}
		}
		out[name] = attr
	}

	if len(out.PrimaryKeys()) == 0 {
		id, declared := out[DefaultPrimaryKey]
		if !declared {
			id = Attribute{Type: TypeInteger}
		}
		id.PrimaryKey = true
		id.AutoIncrement = id.Type == TypeInteger
		out[DefaultPrimaryKey] = id
	}

	for _, a := range out {
		if a.AutoIncrement && (!a.PrimaryKey || a.Type != TypeInteger) {
			return nil, fmt.Errorf("prepare %s: autoIncrement requires an integer primary key", c.Identity)
		}
	}

	if p.CreatedAt {
		if _, ok := out[CreatedAtField]; !ok {
			out[CreatedAtField] = Attribute{Type: TypeDatetime}
		}
	}
	if p.UpdatedAt {
		if _, ok := out[UpdatedAtField]; !ok {
			out[UpdatedAtField] = Attribute{Type: TypeDatetime}
		}
	}
	return out, nil
}

func normalizeAttribute(raw any) (Attribute, error) {
	switch v := raw.(type) {
	case string:
		t, ok := CanonicalType(v)
		if !ok {
			return Attribute{}, fmt.Errorf("unknown type %q", v)
		}
		return Attribute{Type: t}, nil
	case Attribute:
		return canonicalAttribute(v)
	case *Attribute:
		if v == nil {
			return Attribute{}, fmt.Errorf("nil descriptor")
		}
		return canonicalAttribute(*v)
	}

	m, ok := asMap(raw)
	if !ok {
		return Attribute{}, fmt.Errorf("descriptor must be a type name or mapping, got %T", raw)
	}
	var a Attribute
	for k, val := range m {
		switch k {
		case "type":
			s, ok := val.(string)
			if !ok {
				return Attribute{}, fmt.Errorf("type must be a string, got %T", val)
			}
			a.Type = s
		case "primaryKey":
			b, ok := val.(bool)
			if !ok {
				return Attribute{}, fmt.Errorf("primaryKey must be a bool, got %T", val)
			}
			a.PrimaryKey = b
		case "autoIncrement":
			b, ok := val.(bool)
			if !ok {
				return Attribute{}, fmt.Errorf("autoIncrement must be a bool, got %T", val)
			}
			a.AutoIncrement = b
		}
	}
	return canonicalAttribute(a)
}

func canonicalAttribute(a Attribute) (Attribute, error) {
	if a.Type == "" {
		if a.AutoIncrement {
			a.Type = TypeInteger
			return a, nil
		}
		return Attribute{}, fmt.Errorf("type is required")
	}
	t, ok := CanonicalType(a.Type)
	if !ok {
		return Attribute{}, fmt.Errorf("unknown type %q", a.Type)
	}
	a.Type = t
	return a, nil
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
