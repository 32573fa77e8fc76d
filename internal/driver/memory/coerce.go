package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/strata/internal/schema"
)

// coerce converts a value to the representation the store keeps for attr,
// following SQLite's column affinity so both drivers hand back the same Go
// types: integers as int64, floats as float64, JSON values decoded into
// map[string]any/[]any/float64, times in UTC.
func coerce(attr schema.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch attr.Type {
	case schema.TypeInteger:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint()), nil
		}
		if f, ok := numeric(v); ok {
			if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
				return int64(f), nil
			}
			return f, nil
		}
		if b, ok := v.(bool); ok {
			return boolInt(b), nil
		}
	case schema.TypeFloat:
		if f, ok := numeric(v); ok {
			return f, nil
		}
	case schema.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		}
		if f, ok := numeric(v); ok {
			return f != 0, nil
		}
	case schema.TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
		if f, ok := numeric(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
	case schema.TypeDate, schema.TypeDatetime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC(), nil
			}
			return t, nil
		}
	case schema.TypeJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return decoded, nil
	case schema.TypeBinary:
		switch b := v.(type) {
		case []byte:
			return append([]byte(nil), b...), nil
		case string:
			return []byte(b), nil
		}
	}
	return v, nil
}

// numeric reads numbers of any Go kind, and numeric strings.
func numeric(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
	}
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
