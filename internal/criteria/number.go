package criteria

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toNumber reads v as a number. Go numeric kinds are taken as-is; strings
// are trimmed and parsed (decimal, exponent, and 0x/0o/0b integer forms).
// Non-finite results are rejected.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseNumericString(n)
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return 0, false
			}
			return float64(n), true
		}
	}
	// ParseFloat also accepts "inf" and "nan"; toNumber filters those out.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// maxExactInt is the largest integer a float64 holds without loss.
const maxExactInt = 1 << 53

// numberValue returns the canonical numeric form of f.
func numberValue(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
		return int64(f)
	}
	return f
}

// coercible reports whether v passes the legacy "square is positive" test
// and returns its numeric form.
func coercible(v any) (any, bool) {
	f, ok := toNumber(v)
	if !ok {
		return nil, false
	}
	if math.Pow(f, 2) > 0 {
		return numberValue(f), true
	}
	return nil, false
}

// toCount reads a non-negative integer option such as limit or skip.
func toCount(key string, v any) (int, error) {
	f, ok := toNumber(v)
	if !ok || f != math.Trunc(f) {
		return 0, invalid(v, "%s must be an integer", key)
	}
	if f < 0 {
		return 0, invalid(v, "%s must not be negative", key)
	}
	if f > math.MaxInt32 {
		return 0, invalid(v, "%s is too large", key)
	}
	return int(f), nil
}
