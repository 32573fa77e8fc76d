package queryir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/criteria"
)

func TestBuild_CarriesPagingAndSort(t *testing.T) {
	c := criteria.MustNormalize(map[string]any{
		"where": map[string]any{"name": "ada"},
		"limit": 10,
		"skip":  20,
		"order": "age DESC",
	})

	sel, err := Build("users", c)
	require.NoError(t, err)

	assert.Equal(t, "users", sel.From)
	assert.Equal(t, Equals{Field: "name", Value: "ada"}, sel.Filter)
	assert.Equal(t, []criteria.SortKey{{Field: "age", Desc: true}}, sel.Sort)
	assert.Equal(t, 10, sel.Limit)
	assert.Equal(t, 20, sel.Offset)
}

func TestBuild_EmptyCriteriaHasNoFilter(t *testing.T) {
	sel, err := Build("users", criteria.Criteria{})
	require.NoError(t, err)
	assert.Nil(t, sel.Filter)
	assert.Equal(t, 0, sel.Limit)
}

func TestBuildFilter_Translation(t *testing.T) {
	testCases := []struct {
		name  string
		where map[string]any
		want  Predicate
	}{
		{
			name:  "equals",
			where: map[string]any{"name": "ada"},
			want:  Equals{Field: "name", Value: "ada"},
		},
		{
			name:  "null",
			where: map[string]any{"deletedAt": nil},
			want:  IsNull{Field: "deletedAt"},
		},
		{
			name:  "list",
			where: map[string]any{"id": []int{1, 2}},
			want:  In{Field: "id", Values: []any{1, 2}},
		},
		{
			name:  "bytes are a value",
			where: map[string]any{"blob": []byte("ab")},
			want:  Equals{Field: "blob", Value: []byte("ab")},
		},
		{
			name:  "range",
			where: map[string]any{"age": map[string]any{"<=": 60, ">": 30}},
			want: And{Predicates: []Predicate{
				Compare{Field: "age", Op: OpLessEqual, Value: 60},
				Compare{Field: "age", Op: OpGreater, Value: 30},
			}},
		},
		{
			name:  "word operators",
			where: map[string]any{"age": map[string]any{"greaterThanOrEqual": 18}},
			want:  Compare{Field: "age", Op: OpGreaterEqual, Value: 18},
		},
		{
			name:  "not",
			where: map[string]any{"role": map[string]any{"!": "admin"}},
			want:  Not{Predicate: Equals{Field: "role", Value: "admin"}},
		},
		{
			name:  "not null",
			where: map[string]any{"email": map[string]any{"not": nil}},
			want:  Not{Predicate: IsNull{Field: "email"}},
		},
		{
			name:  "not in",
			where: map[string]any{"id": map[string]any{"!": []any{1, 2}}},
			want:  Not{Predicate: In{Field: "id", Values: []any{1, 2}}},
		},
		{
			name:  "in modifier",
			where: map[string]any{"id": map[string]any{"in": []any{3}}},
			want:  In{Field: "id", Values: []any{3}},
		},
		{
			name:  "contains",
			where: map[string]any{"name": map[string]any{"contains": "da"}},
			want:  Like{Field: "name", Pattern: "%da%"},
		},
		{
			name:  "startsWith",
			where: map[string]any{"name": map[string]any{"startsWith": "a"}},
			want:  Like{Field: "name", Pattern: "a%"},
		},
		{
			name:  "endsWith",
			where: map[string]any{"name": map[string]any{"endsWith": "a"}},
			want:  Like{Field: "name", Pattern: "%a"},
		},
		{
			name:  "like",
			where: map[string]any{"name": map[string]any{"like": "a_a"}},
			want:  Like{Field: "name", Pattern: "a_a"},
		},
		{
			name:  "fields sorted",
			where: map[string]any{"b": 2, "a": 1},
			want: And{Predicates: []Predicate{
				Equals{Field: "a", Value: 1},
				Equals{Field: "b", Value: 2},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildFilter(tc.where)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildFilter_TimeComparison(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := BuildFilter(map[string]any{"createdAt": map[string]any{"<": at}})
	require.NoError(t, err)
	assert.Equal(t, Compare{Field: "createdAt", Op: OpLess, Value: at}, got)
}

func TestBuildFilter_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		where map[string]any
	}{
		{"unknown modifier", map[string]any{"age": map[string]any{"between": 1}}},
		{"empty modifier", map[string]any{"age": map[string]any{}}},
		{"compare list", map[string]any{"age": map[string]any{">": []any{1}}}},
		{"compare null", map[string]any{"age": map[string]any{">": nil}}},
		{"in scalar", map[string]any{"id": map[string]any{"in": 1}}},
		{"like number", map[string]any{"name": map[string]any{"like": 1}}},
		{"nested unknown in not", map[string]any{"age": map[string]any{"!": map[string]any{"nope": 1}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildFilter(tc.where)
			require.Error(t, err)
			assert.True(t, criteria.IsInvalidCriteria(err))
		})
	}
}

func TestJoinKindFor(t *testing.T) {
	assert.Equal(t, InnerJoin, JoinKindFor(false, false))
	assert.Equal(t, LeftJoin, JoinKindFor(true, false))
	assert.Equal(t, RightJoin, JoinKindFor(false, true))
	assert.Equal(t, FullJoin, JoinKindFor(true, true))
	assert.Equal(t, "LEFT OUTER JOIN", LeftJoin.String())
	assert.Equal(t, "INNER JOIN", InnerJoin.String())
}
