package queryir

import (
	"reflect"
	"sort"
	"time"

	"github.com/roach88/strata/internal/criteria"
)

// Build translates normalized criteria for a collection into a Select.
// Fields and modifiers are visited in sorted order so the resulting tree,
// and any SQL compiled from it, is deterministic.
func Build(collection string, c criteria.Criteria) (Select, error) {
	filter, err := BuildFilter(c.Where)
	if err != nil {
		return Select{}, err
	}
	return Select{
		From:   collection,
		Filter: filter,
		Sort:   append([]criteria.SortKey(nil), c.Sort...),
		Limit:  c.Limit,
		Offset: c.Skip,
	}, nil
}

// BuildFilter translates a Where mapping into a predicate. An empty mapping
// yields nil (no filter).
func BuildFilter(where map[string]any) (Predicate, error) {
	fields := make([]string, 0, len(where))
	for f := range where {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var preds []Predicate
	for _, field := range fields {
		p, err := fieldPredicate(field, where[field])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p...)
	}
	return conjoin(preds), nil
}

func conjoin(preds []Predicate) Predicate {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	default:
		return And{Predicates: preds}
	}
}

func fieldPredicate(field string, v any) ([]Predicate, error) {
	if v == nil {
		return []Predicate{IsNull{Field: field}}, nil
	}
	if values, ok := asList(v); ok {
		return []Predicate{In{Field: field, Values: values}}, nil
	}
	mods, ok := asModifiers(v)
	if !ok {
		return []Predicate{Equals{Field: field, Value: v}}, nil
	}
	if len(mods) == 0 {
		return nil, &criteria.InvalidCriteriaError{Input: v, Reason: "empty modifier for field " + field}
	}

	names := make([]string, 0, len(mods))
	for name := range mods {
		names = append(names, name)
	}
	sort.Strings(names)

	preds := make([]Predicate, 0, len(names))
	for _, name := range names {
		p, err := modifierPredicate(field, name, mods[name])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func modifierPredicate(field, modifier string, v any) (Predicate, error) {
	switch modifier {
	case "<", "lessThan":
		return compare(field, OpLess, v)
	case "<=", "lessThanOrEqual":
		return compare(field, OpLessEqual, v)
	case ">", "greaterThan":
		return compare(field, OpGreater, v)
	case ">=", "greaterThanOrEqual":
		return compare(field, OpGreaterEqual, v)
	case "!", "not":
		inner, err := fieldPredicate(field, v)
		if err != nil {
			return nil, err
		}
		return Not{Predicate: conjoin(inner)}, nil
	case "in":
		values, ok := asList(v)
		if !ok {
			return nil, &criteria.InvalidCriteriaError{Input: v, Reason: "in expects a list for field " + field}
		}
		return In{Field: field, Values: values}, nil
	case "like":
		return like(field, v, "", "")
	case "contains":
		return like(field, v, "%", "%")
	case "startsWith":
		return like(field, v, "", "%")
	case "endsWith":
		return like(field, v, "%", "")
	default:
		return nil, &criteria.InvalidCriteriaError{Input: modifier, Reason: "unknown modifier for field " + field}
	}
}

func compare(field string, op CompareOp, v any) (Predicate, error) {
	if v == nil || !isScalar(v) {
		return nil, &criteria.InvalidCriteriaError{Input: v, Reason: "comparison needs a scalar value for field " + field}
	}
	return Compare{Field: field, Op: op, Value: v}, nil
}

func like(field string, v any, prefix, suffix string) (Predicate, error) {
	s, ok := v.(string)
	if !ok {
		return nil, &criteria.InvalidCriteriaError{Input: v, Reason: "pattern must be a string for field " + field}
	}
	return Like{Field: field, Pattern: prefix + s + suffix}, nil
}

func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is a blob value, not a list.
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asModifiers(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func isScalar(v any) bool {
	switch v.(type) {
	case []byte, time.Time:
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return false
	}
	return true
}
