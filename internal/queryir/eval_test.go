package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	ada := map[string]any{
		"id":        int64(1),
		"name":      "Ada",
		"age":       36.0,
		"createdAt": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"email":     nil,
	}

	testCases := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"nil matches everything", nil, true},
		{"equals across numeric kinds", Equals{Field: "id", Value: 1}, true},
		{"equals float vs int", Equals{Field: "age", Value: int32(36)}, true},
		{"equals numeric string", Equals{Field: "id", Value: "1"}, true},
		{"equals string", Equals{Field: "name", Value: "Ada"}, true},
		{"equals is case sensitive", Equals{Field: "name", Value: "ada"}, false},
		{"equals missing field", Equals{Field: "nope", Value: 1}, false},
		{"in hit", In{Field: "id", Values: []any{3, 1}}, true},
		{"in miss", In{Field: "id", Values: []any{3}}, false},
		{"empty in", In{Field: "id"}, false},
		{"greater", Compare{Field: "age", Op: OpGreater, Value: 30}, true},
		{"less equal boundary", Compare{Field: "age", Op: OpLessEqual, Value: 36}, true},
		{"less", Compare{Field: "age", Op: OpLess, Value: 36}, false},
		{"string ordering", Compare{Field: "name", Op: OpGreaterEqual, Value: "A"}, true},
		{"time ordering", Compare{Field: "createdAt", Op: OpLess, Value: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}, true},
		{"incomparable", Compare{Field: "name", Op: OpLess, Value: true}, false},
		{"like prefix case-insensitive", Like{Field: "name", Pattern: "a%"}, true},
		{"like underscore", Like{Field: "name", Pattern: "_d_"}, true},
		{"like middle", Like{Field: "name", Pattern: "%D%"}, true},
		{"like miss", Like{Field: "name", Pattern: "b%"}, false},
		{"like number", Like{Field: "id", Pattern: "1"}, true},
		{"null field", IsNull{Field: "email"}, true},
		{"missing field is null", IsNull{Field: "nope"}, true},
		{"present field", IsNull{Field: "name"}, false},
		{"not null", Not{Predicate: IsNull{Field: "name"}}, true},
		{"not equals", Not{Predicate: Equals{Field: "name", Value: "Bob"}}, true},
		{"not over null is unknown", Not{Predicate: Equals{Field: "email", Value: "x"}}, false},
		{"and all", And{Predicates: []Predicate{Equals{Field: "id", Value: 1}, Like{Field: "name", Pattern: "A%"}}}, true},
		{"and one false", And{Predicates: []Predicate{Equals{Field: "id", Value: 1}, Equals{Field: "id", Value: 2}}}, false},
		{"empty and", And{}, true},
		{"not of and with unknown", Not{Predicate: And{Predicates: []Predicate{Equals{Field: "email", Value: "x"}}}}, false},
		{"not of and with false", Not{Predicate: And{Predicates: []Predicate{
			Equals{Field: "email", Value: "x"},
			Equals{Field: "id", Value: 2},
		}}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.pred, ada))
		})
	}
}

func TestLikeMatch(t *testing.T) {
	testCases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"", "", true},
		{"%", "", true},
		{"%", "anything", true},
		{"a%c", "abbbc", true},
		{"a%c", "abbbd", false},
		{"%b%b%", "abcb", true},
		{"a_c", "abc", true},
		{"a_c", "ac", false},
		{"ÉCOLE", "école", false},
		{"ÉCOLE", "ÉCOLE", true},
	}

	for _, tc := range testCases {
		t.Run(tc.pattern+"/"+tc.s, func(t *testing.T) {
			assert.Equal(t, tc.want, likeMatch(tc.pattern, tc.s))
		})
	}
}
