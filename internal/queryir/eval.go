package queryir

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Match evaluates p against a record. A nil predicate matches everything.
//
// Evaluation follows SQL three-valued logic so that in-memory results agree
// with SQL backends: a comparison against a missing or null field is
// unknown, NOT of unknown stays unknown, and only a definite true matches.
func Match(p Predicate, record map[string]any) bool {
	if p == nil {
		return true
	}
	result, known := eval(p, record)
	return known && result
}

func eval(p Predicate, record map[string]any) (result bool, known bool) {
	switch pred := p.(type) {
	case Equals:
		v, ok := present(record, pred.Field)
		if !ok {
			return false, false
		}
		return valuesEqual(v, pred.Value), true
	case In:
		v, ok := present(record, pred.Field)
		if !ok {
			return false, false
		}
		for _, candidate := range pred.Values {
			if valuesEqual(v, candidate) {
				return true, true
			}
		}
		return false, true
	case Compare:
		v, ok := present(record, pred.Field)
		if !ok {
			return false, false
		}
		cmp, comparable := CompareValues(v, pred.Value)
		if !comparable {
			return false, true
		}
		switch pred.Op {
		case OpLess:
			return cmp < 0, true
		case OpLessEqual:
			return cmp <= 0, true
		case OpGreater:
			return cmp > 0, true
		case OpGreaterEqual:
			return cmp >= 0, true
		}
		return false, true
	case Like:
		v, ok := present(record, pred.Field)
		if !ok {
			return false, false
		}
		return likeMatch(pred.Pattern, fmt.Sprint(v)), true
	case IsNull:
		_, ok := present(record, pred.Field)
		return !ok, true
	case Not:
		inner, known := eval(pred.Predicate, record)
		return !inner, known
	case And:
		unknown := false
		for _, sub := range pred.Predicates {
			r, k := eval(sub, record)
			if k && !r {
				return false, true
			}
			if !k {
				unknown = true
			}
		}
		return !unknown, !unknown
	}
	return false, true
}

func present(record map[string]any, field string) (any, bool) {
	v, ok := record[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func valuesEqual(a, b any) bool {
	if cmp, ok := CompareValues(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two scalars: numbers numerically (numeric strings
// included), times chronologically, strings lexically, bools false < true.
// ok is false when the two values are not comparable.
func CompareValues(a, b any) (int, bool) {
	if af, ok := number(a); ok {
		if bf, ok := number(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt), true
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0, true
			case bb:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
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

// likeMatch implements SQL LIKE: % matches any run, _ matches one rune,
// ASCII letters compare case-insensitively.
func likeMatch(pattern, s string) bool {
	p := []rune(pattern)
	r := []rune(s)
	pi, ri := 0, 0
	starP, starR := -1, 0
	for ri < len(r) {
		switch {
		case pi < len(p) && p[pi] == '%':
			starP, starR = pi, ri
			pi++
		case pi < len(p) && (p[pi] == '_' || foldASCII(p[pi]) == foldASCII(r[ri])):
			pi++
			ri++
		case starP >= 0:
			starR++
			pi, ri = starP+1, starR
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}

func foldASCII(r rune) rune {
	if r < unicode.MaxASCII {
		return unicode.ToLower(r)
	}
	return r
}
