package querysql

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/queryir"
)

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// Every SELECT carries an ORDER BY ending in the primary key so that results
// are deterministic. Values are always bound as parameters, never
// interpolated; identifiers are always quoted.
type SQLCompiler struct {
	// PrimaryKey is the tiebreaker column appended to every ORDER BY.
	PrimaryKey string
	// PrimaryKeys overrides PrimaryKey per table in joins.
	PrimaryKeys map[string]string
}

// NewSQLCompiler creates a compiler that orders by "id".
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{PrimaryKey: "id"}
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case queryir.Join:
		return c.compileJoin(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(Quote(q.From))

	where, params, err := c.where(q.Filter)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(where)

	b.WriteString(" ORDER BY ")
	b.WriteString(c.orderBy(q.Sort))

	switch {
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
		if q.Offset > 0 {
			b.WriteString(" OFFSET ?")
			params = append(params, q.Offset)
		}
	case q.Offset > 0:
		// SQLite has no OFFSET without LIMIT; -1 means unbounded.
		b.WriteString(" LIMIT -1 OFFSET ?")
		params = append(params, q.Offset)
	}

	return b.String(), params, nil
}

// orderBy renders the sort keys followed by the primary-key tiebreaker,
// unless the caller already sorts on it.
func (c *SQLCompiler) orderBy(keys []criteria.SortKey) string {
	parts := make([]string, 0, len(keys)+1)
	hasPK := false
	for _, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts = append(parts, Quote(k.Field)+" "+dir)
		if k.Field == c.primaryKey() {
			hasPK = true
		}
	}
	if !hasPK {
		parts = append(parts, Quote(c.primaryKey())+" ASC")
	}
	return strings.Join(parts, ", ")
}

func (c *SQLCompiler) primaryKey() string {
	if c.PrimaryKey == "" {
		return "id"
	}
	return c.PrimaryKey
}

func (c *SQLCompiler) primaryKeyOf(table string) string {
	if pk, ok := c.PrimaryKeys[table]; ok && pk != "" {
		return pk
	}
	return c.primaryKey()
}

func (c *SQLCompiler) where(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	sql, params, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	return " WHERE " + sql, params, nil
}

// compilePredicate compiles a queryir.Predicate to a WHERE fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		param, err := Param(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return Quote(pred.Field) + " = ?", []any{param}, nil
	case queryir.In:
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil
		}
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			param, err := Param(v)
			if err != nil {
				return "", nil, err
			}
			params[i] = param
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return Quote(pred.Field) + " IN (" + placeholders + ")", params, nil
	case queryir.Compare:
		param, err := Param(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", Quote(pred.Field), pred.Op), []any{param}, nil
	case queryir.Like:
		return Quote(pred.Field) + " LIKE ?", []any{pred.Pattern}, nil
	case queryir.IsNull:
		return Quote(pred.Field) + " IS NULL", nil, nil
	case queryir.Not:
		if pred.Predicate == nil {
			return "1 = 0", nil, nil
		}
		inner, params, err := c.compilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", params, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if _, nested := sub.(queryir.And); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileJoin projects both sides under qualified aliases so that columns
// with the same name in each collection stay distinct.
func (c *SQLCompiler) compileJoin(j queryir.Join) (string, []any, error) {
	if len(j.LeftFields) == 0 || len(j.RightFields) == 0 {
		return "", nil, fmt.Errorf("join %s/%s: field lists are required", j.Left, j.Right)
	}
	if j.Key == "" || j.ForeignKey == "" {
		return "", nil, fmt.Errorf("join %s/%s: key and foreign key are required", j.Left, j.Right)
	}

	cols := make([]string, 0, len(j.LeftFields)+len(j.RightFields))
	for _, f := range j.LeftFields {
		cols = append(cols, qualified(j.Left, f)+" AS "+Quote(queryir.Qualify(j.Left, f)))
	}
	for _, f := range j.RightFields {
		cols = append(cols, qualified(j.Right, f)+" AS "+Quote(queryir.Qualify(j.Right, f)))
	}

	sql := fmt.Sprintf("SELECT %s FROM %s %s %s ON %s = %s ORDER BY %s ASC, %s ASC",
		strings.Join(cols, ", "),
		Quote(j.Left),
		j.Kind,
		Quote(j.Right),
		qualified(j.Left, j.Key),
		qualified(j.Right, j.ForeignKey),
		qualified(j.Left, c.primaryKeyOf(j.Left)),
		qualified(j.Right, c.primaryKeyOf(j.Right)))

	return sql, nil, nil
}

// Quote returns name as a double-quoted SQLite identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualified(table, column string) string {
	return Quote(table) + "." + Quote(column)
}

// Param converts a record or criteria value to a SQLite bind parameter.
// Scalars pass through (the driver binds bools as 0/1 and times as text);
// structured values (maps, lists, structs) are stored as JSON text.
func Param(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, []byte, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %T parameter: %w", v, err)
		}
		return string(data), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Param(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("unsupported parameter type: %T", v)
}
