package criteria

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Key returns the stable resource key for (collection, c).
//
// A nil or zero criteria locks the whole collection and the key is the bare
// collection name. Otherwise the canonical encoding of c.Map() is appended,
// so equal criteria always produce equal keys regardless of map order.
func Key(collection string, c *Criteria) (string, error) {
	if c == nil || c.IsZero() {
		return collection, nil
	}
	encoded, err := MarshalCanonical(c.Map())
	if err != nil {
		return "", fmt.Errorf("criteria key for %s: %w", collection, err)
	}
	return collection + "|" + string(encoded), nil
}

// MarshalCanonical encodes v as JSON with sorted object keys (UTF-16 code
// unit order), NFC-normalized strings, and no HTML escaping. Numbers use the
// shortest representation that round-trips.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return writeCanonicalString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		return writeCanonicalFloat(buf, val)
	case json.Number:
		buf.WriteString(val.String())
	case time.Time:
		return writeCanonicalString(buf, val.UTC().Format(time.RFC3339Nano))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareUTF16)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return writeReflected(buf, v)
	}
	return nil
}

// writeReflected handles the remaining numeric kinds and typed slices/maps.
func writeReflected(buf *bytes.Buffer, v any) error {
	if f, ok := toNumber(v); ok {
		return writeCanonicalFloat(buf, f)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elems := make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
		return writeCanonical(buf, elems)
	case reflect.Map:
		if m, ok := asMap(v); ok {
			return writeCanonical(buf, m)
		}
	case reflect.Pointer:
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return writeCanonical(buf, rv.Elem().Interface())
	}
	return fmt.Errorf("unsupported type for canonical encoding: %T", v)
}

func writeCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// Encoder appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// compareUTF16 orders strings by UTF-16 code units, which differs from
// byte order for characters outside the BMP.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	return slices.Compare(ua, ub)
}

// Overlaps reports whether the record sets selected by a and b may
// intersect. nil or empty Where selects the whole collection and overlaps
// everything. Two criteria are disjoint only when some field is bound to
// unequal scalar values in both.
func Overlaps(a, b *Criteria) bool {
	if a == nil || b == nil || len(a.Where) == 0 || len(b.Where) == 0 {
		return true
	}
	for field, av := range a.Where {
		bv, ok := b.Where[field]
		if !ok || !isScalar(av) || !isScalar(bv) {
			continue
		}
		if !scalarEqual(av, bv) {
			return false
		}
	}
	return true
}

// Subsumes reports whether every record b selects is also selected by a.
// It is conservative: a must be the whole collection, or each field a
// binds must be bound by b to an equal value.
func Subsumes(a, b *Criteria) bool {
	if a == nil || len(a.Where) == 0 {
		return true
	}
	if b == nil || len(b.Where) == 0 {
		return false
	}
	for field, av := range a.Where {
		bv, ok := b.Where[field]
		if !ok {
			return false
		}
		if isScalar(av) && isScalar(bv) {
			if !scalarEqual(av, bv) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return false
	}
	return true
}

func scalarEqual(a, b any) bool {
	_, as := a.(string)
	_, bs := b.(string)
	if !as && !bs {
		af, aok := toNumber(a)
		bf, bok := toNumber(b)
		if aok && bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
