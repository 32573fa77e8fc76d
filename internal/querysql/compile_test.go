package querysql

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/queryir"
	"github.com/roach88/strata/internal/schema"
)

// assertGolden compares compiled SQL and its parameters against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/querysql -update
func assertGolden(t *testing.T, name, sql string, params []any) {
	t.Helper()

	p, err := json.Marshal(params)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(sql+"\n-- params: "+string(p)+"\n"))
}

func TestCompile_SelectPaged(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Select{
		From: "users",
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Compare{Field: "age", Op: queryir.OpGreater, Value: 30},
			queryir.Like{Field: "name", Pattern: "a%"},
		}},
		Sort:   []criteria.SortKey{{Field: "age", Desc: true}},
		Limit:  10,
		Offset: 20,
	})
	require.NoError(t, err)

	assertGolden(t, "select_paged", sql, params)
}

func TestCompile_SelectOffsetOnly(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{From: "users", Offset: 5})
	require.NoError(t, err)

	assertGolden(t, "select_offset_only", sql, params)
}

func TestCompile_SelectPredicates(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{
		From: "users",
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.In{Field: "id", Values: []any{1, 2, 3}},
			queryir.IsNull{Field: "deletedAt"},
			queryir.Not{Predicate: queryir.Equals{Field: "role", Value: "admin"}},
			queryir.Compare{Field: "score", Op: queryir.OpLessEqual, Value: 9.5},
		}},
	})
	require.NoError(t, err)

	assertGolden(t, "select_predicates", sql, params)
}

func TestCompile_JoinLeft(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Join{
		Left:        "users",
		Right:       "posts",
		Key:         "id",
		ForeignKey:  "userId",
		Kind:        queryir.LeftJoin,
		LeftFields:  []string{"id", "name"},
		RightFields: []string{"id", "title"},
	})
	require.NoError(t, err)

	assertGolden(t, "join_left", sql, params)
}

func TestCompile_CreateTable(t *testing.T) {
	sql, err := NewSQLCompiler().CompileCreateTable("users", schema.Schema{
		"id":        {Type: schema.TypeInteger, PrimaryKey: true, AutoIncrement: true},
		"name":      {Type: schema.TypeString},
		"age":       {Type: schema.TypeInteger},
		"meta":      {Type: schema.TypeJSON},
		"createdAt": {Type: schema.TypeDatetime},
	})
	require.NoError(t, err)

	assertGolden(t, "create_table", sql, nil)
}

func TestCompile_Insert(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompileInsert("users", map[string]any{
		"name": "ada",
		"age":  36,
		"tags": []string{"a"},
	})
	require.NoError(t, err)

	assertGolden(t, "insert", sql, params)
}

func TestCompile_Update(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompileUpdate("users",
		queryir.Equals{Field: "id", Value: 1},
		map[string]any{"name": "bob"})
	require.NoError(t, err)

	assertGolden(t, "update", sql, params)
}

func TestCompile_DeleteAll(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompileDelete("users", nil)
	require.NoError(t, err)

	assertGolden(t, "delete_all", sql, params)
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{
		From:   "users",
		Filter: queryir.Equals{Field: "name", Value: "'; DROP TABLE users; --"},
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"'; DROP TABLE users; --"}, params)
}

func TestCompile_OrderByAlwaysPresent(t *testing.T) {
	testCases := []struct {
		name string
		sort []criteria.SortKey
		want string
	}{
		{"default", nil, `ORDER BY "id" ASC`},
		{"tiebreaker appended", []criteria.SortKey{{Field: "name"}}, `ORDER BY "name" ASC, "id" ASC`},
		{"explicit id not repeated", []criteria.SortKey{{Field: "id", Desc: true}}, `ORDER BY "id" DESC`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql, _, err := NewSQLCompiler().Compile(queryir.Select{From: "users", Sort: tc.sort})
			require.NoError(t, err)
			assert.Contains(t, sql, tc.want)
		})
	}
}

func TestCompile_EdgePredicates(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Select{From: "t", Filter: queryir.In{Field: "id"}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "t" WHERE 1 = 0 ORDER BY "id" ASC`, sql)
	assert.Empty(t, params)

	sql, _, err = compiler.Compile(queryir.Select{From: "t", Filter: queryir.Not{Predicate: queryir.And{Predicates: []queryir.Predicate{
		queryir.Equals{Field: "a", Value: 1},
		queryir.Equals{Field: "b", Value: 2},
	}}}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "t" WHERE NOT ("a" = ? AND "b" = ?) ORDER BY "id" ASC`, sql)
}

func TestCompile_Errors(t *testing.T) {
	compiler := NewSQLCompiler()

	_, _, err := compiler.Compile(nil)
	require.Error(t, err)

	_, _, err = compiler.Compile(queryir.Join{Left: "a", Right: "b", Key: "id", ForeignKey: "aId"})
	require.Error(t, err, "join without field lists")

	_, _, err = compiler.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "f", Value: make(chan int)}})
	require.Error(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"users"`, Quote("users"))
	assert.Equal(t, `"we""ird"`, Quote(`we"ird`))
}

func TestParam(t *testing.T) {
	type level int
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	name := "ada"

	testCases := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "x", "x"},
		{"bool", true, true},
		{"time", at, at},
		{"bytes", []byte("ab"), []byte("ab")},
		{"named int", level(3), int64(3)},
		{"json number", json.Number("12"), int64(12)},
		{"pointer", &name, "ada"},
		{"map", map[string]any{"k": 1}, `{"k":1}`},
		{"list", []any{1, "a"}, `[1,"a"]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Param(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileCreateTable_CompositeKey(t *testing.T) {
	sql, err := NewSQLCompiler().CompileCreateTable("memberships", schema.Schema{
		"userId":  {Type: schema.TypeInteger, PrimaryKey: true},
		"groupId": {Type: schema.TypeInteger, PrimaryKey: true},
		"role":    {Type: schema.TypeString},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TABLE "memberships" ("groupId" INTEGER, "userId" INTEGER, "role" TEXT, PRIMARY KEY ("groupId", "userId"))`,
		sql)
}

func TestCompileCreateTable_Errors(t *testing.T) {
	compiler := NewSQLCompiler()

	_, err := compiler.CompileCreateTable("t", schema.Schema{})
	require.Error(t, err)

	_, err = compiler.CompileCreateTable("t", schema.Schema{"f": {Type: "uuid"}})
	require.Error(t, err)

	_, err = compiler.CompileCreateTable("t", schema.Schema{"code": {Type: schema.TypeString, PrimaryKey: true, AutoIncrement: true}})
	require.Error(t, err)
}

func TestCompileAlter(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, err := compiler.CompileAlter("users", schema.Change{Op: schema.AddAttribute, Name: "email", Attribute: schema.Attribute{Type: "string"}})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "users" ADD COLUMN "email" TEXT`, sql)

	sql, err = compiler.CompileAlter("users", schema.Change{Op: schema.RemoveAttribute, Name: "legacy"})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "users" DROP COLUMN "legacy"`, sql)

	_, err = compiler.CompileAlter("users", schema.Change{Op: schema.AddAttribute, Name: "pk", Attribute: schema.Attribute{Type: "integer", PrimaryKey: true}})
	require.Error(t, err)

	assert.Equal(t, `DROP TABLE IF EXISTS "users"`, compiler.CompileDropTable("users"))
	assert.Equal(t, `SELECT COUNT(*) FROM "users"`, compiler.CompileCount("users"))
}

func TestCompileInsert_DefaultValues(t *testing.T) {
	sql, params, err := NewSQLCompiler().CompileInsert("users", nil)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES RETURNING *`, sql)
	assert.Empty(t, params)
}

func TestColumnTypeRoundTrip(t *testing.T) {
	for _, attr := range []string{
		schema.TypeString, schema.TypeInteger, schema.TypeFloat, schema.TypeBoolean,
		schema.TypeDate, schema.TypeDatetime, schema.TypeJSON, schema.TypeBinary,
	} {
		col, err := ColumnType(attr)
		require.NoError(t, err)
		assert.Equal(t, attr, AttributeType(col), col)
	}

	assert.Equal(t, schema.TypeString, AttributeType("varchar(255)"))
	assert.Equal(t, schema.TypeInteger, AttributeType("bigint"))
	assert.Equal(t, schema.TypeFloat, AttributeType("double precision"))
}

func TestCompile_JoinPerTablePrimaryKeys(t *testing.T) {
	c := &SQLCompiler{PrimaryKey: "id", PrimaryKeys: map[string]string{"tags": "slug"}}
	sql, _, err := c.Compile(queryir.Join{
		Left: "posts", Right: "tags", Key: "tag", ForeignKey: "slug",
		LeftFields: []string{"id"}, RightFields: []string{"slug"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, `ORDER BY "posts"."id" ASC, "tags"."slug" ASC`), sql)
}
