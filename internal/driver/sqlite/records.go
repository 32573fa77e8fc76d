package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/queryir"
	"github.com/roach88/strata/internal/querysql"
	"github.com/roach88/strata/internal/schema"
)

// timeFormats are the layouts go-sqlite3 writes and SQLite's date functions
// produce.
var timeFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (d *Driver) Create(ctx context.Context, collection string, values driver.Record) (driver.Record, error) {
	s, err := d.tableSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	encoded, err := encode(s, values)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	stmt, params, err := compilerFor(s).CompileInsert(collection, encoded)
	if err != nil {
		return nil, err
	}
	rows, err := d.query(ctx, stmt, params, decoderFor(s))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create %s: no row returned", collection)
	}
	return rows[0], nil
}

func (d *Driver) Find(ctx context.Context, q queryir.Select) ([]driver.Record, error) {
	s, err := d.tableSchema(ctx, q.From)
	if err != nil {
		return nil, err
	}
	stmt, params, err := compilerFor(s).Compile(q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.From, err)
	}
	rows, err := d.query(ctx, stmt, params, decoderFor(s))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.From, err)
	}
	return rows, nil
}

// Update returns the updated records ordered by primary key.
func (d *Driver) Update(ctx context.Context, collection string, filter queryir.Predicate, values driver.Record) ([]driver.Record, error) {
	s, err := d.tableSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	encoded, err := encode(s, values)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	stmt, params, err := compilerFor(s).CompileUpdate(collection, filter, encoded)
	if err != nil {
		return nil, err
	}
	rows, err := d.query(ctx, stmt, params, decoderFor(s))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	sortByKey(rows, s)
	return rows, nil
}

// Destroy returns the removed records ordered by primary key.
func (d *Driver) Destroy(ctx context.Context, collection string, filter queryir.Predicate) ([]driver.Record, error) {
	s, err := d.tableSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	stmt, params, err := compilerFor(s).CompileDelete(collection, filter)
	if err != nil {
		return nil, err
	}
	rows, err := d.query(ctx, stmt, params, decoderFor(s))
	if err != nil {
		return nil, fmt.Errorf("destroy %s: %w", collection, err)
	}
	sortByKey(rows, s)
	return rows, nil
}

func (d *Driver) Status(ctx context.Context, collection string) (*driver.Status, error) {
	s, err := d.tableSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, compilerFor(s).CompileCount(collection)).Scan(&n); err != nil {
		return nil, fmt.Errorf("status %s: %w", collection, err)
	}
	seq, err := d.AutoIncrement(ctx, collection)
	if err != nil {
		return nil, err
	}
	return &driver.Status{
		Collection: collection,
		Records:    n,
		Details:    map[string]any{"fields": len(s), "sequence": seq, "path": d.path},
	}, nil
}

// AutoIncrement returns the table's high-water mark from sqlite_sequence,
// or the largest rowid for tables without AUTOINCREMENT.
func (d *Driver) AutoIncrement(ctx context.Context, collection string) (int64, error) {
	if _, err := d.tableSchema(ctx, collection); err != nil {
		return 0, err
	}
	db, err := d.conn()
	if err != nil {
		return 0, err
	}

	var hasSequence int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&hasSequence)
	if err != nil {
		return 0, fmt.Errorf("auto increment %s: %w", collection, err)
	}
	if hasSequence > 0 {
		var seq int64
		err := db.QueryRowContext(ctx, "SELECT seq FROM sqlite_sequence WHERE name = ?", collection).Scan(&seq)
		switch {
		case err == nil:
			return seq, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("auto increment %s: %w", collection, err)
		}
	}

	var highest int64
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(rowid), 0) FROM "+querysql.Quote(collection)).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("auto increment %s: %w", collection, err)
	}
	return highest, nil
}

// Join runs the join in SQL. Empty field lists select every column of
// that side.
func (d *Driver) Join(ctx context.Context, j queryir.Join) ([]driver.Record, error) {
	left, err := d.tableSchema(ctx, j.Left)
	if err != nil {
		return nil, err
	}
	right, err := d.tableSchema(ctx, j.Right)
	if err != nil {
		return nil, err
	}
	if _, ok := left[j.Key]; !ok {
		return nil, fmt.Errorf("join %s: unknown field %s", j.Left, j.Key)
	}
	if _, ok := right[j.ForeignKey]; !ok {
		return nil, fmt.Errorf("join %s: unknown field %s", j.Right, j.ForeignKey)
	}
	if len(j.LeftFields) == 0 {
		j.LeftFields = left.Names()
	}
	if len(j.RightFields) == 0 {
		j.RightFields = right.Names()
	}

	c := &querysql.SQLCompiler{
		PrimaryKey:  primaryKey(left),
		PrimaryKeys: map[string]string{j.Left: primaryKey(left), j.Right: primaryKey(right)},
	}
	stmt, params, err := c.Compile(j)
	if err != nil {
		return nil, err
	}

	dec := func(col string, v any) (any, error) {
		if f, ok := strings.CutPrefix(col, j.Left+"."); ok {
			if attr, ok := left[f]; ok {
				return decodeValue(attr, v)
			}
		}
		if f, ok := strings.CutPrefix(col, j.Right+"."); ok {
			if attr, ok := right[f]; ok {
				return decodeValue(attr, v)
			}
		}
		return v, nil
	}
	rows, err := d.query(ctx, stmt, params, dec)
	if err != nil {
		return nil, fmt.Errorf("join %s/%s: %w", j.Left, j.Right, err)
	}
	return rows, nil
}

type decoder func(column string, v any) (any, error)

func decoderFor(s schema.Schema) decoder {
	return func(col string, v any) (any, error) {
		attr, ok := s[col]
		if !ok {
			return v, nil
		}
		return decodeValue(attr, v)
	}
}

func (d *Driver) query(ctx context.Context, stmt string, params []any, dec decoder) ([]driver.Record, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	d.logger.Debug("query", "sql", stmt, "params", len(params))

	rows, err := db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []driver.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(driver.Record, len(cols))
		for i, col := range cols {
			v, err := dec(col, vals[i])
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", col, err)
			}
			rec[col] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// encode prepares record values for binding. JSON attributes are always
// stored as JSON text so that scalars round-trip too.
func encode(s schema.Schema, values driver.Record) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		attr, ok := s[name]
		switch {
		case v == nil:
			out[name] = nil
		case ok && attr.Type == schema.TypeJSON:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", name, err)
			}
			out[name] = string(data)
		case ok && (attr.Type == schema.TypeDate || attr.Type == schema.TypeDatetime):
			if t, isTime := v.(time.Time); isTime {
				out[name] = t.UTC()
			} else {
				out[name] = v
			}
		default:
			out[name] = v
		}
	}
	return out, nil
}

func decodeValue(attr schema.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch attr.Type {
	case schema.TypeJSON:
		var raw []byte
		switch t := v.(type) {
		case string:
			raw = []byte(t)
		case []byte:
			raw = t
		default:
			return v, nil
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	case schema.TypeBoolean:
		switch t := v.(type) {
		case int64:
			return t != 0, nil
		case float64:
			return t != 0, nil
		}
	case schema.TypeDate, schema.TypeDatetime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			for _, layout := range timeFormats {
				if parsed, err := time.Parse(layout, t); err == nil {
					return parsed.UTC(), nil
				}
			}
		}
	case schema.TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	}
	return v, nil
}

func compilerFor(s schema.Schema) *querysql.SQLCompiler {
	return &querysql.SQLCompiler{PrimaryKey: primaryKey(s)}
}

func sortByKey(rows []driver.Record, s schema.Schema) {
	pks := s.PrimaryKeys()
	sort.SliceStable(rows, func(i, j int) bool {
		for _, pk := range pks {
			c, _ := queryir.CompareValues(rows[i][pk], rows[j][pk])
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}
