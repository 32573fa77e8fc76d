package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/querysql"
	"github.com/roach88/strata/internal/schema"
)

func (d *Driver) Define(ctx context.Context, collection string, s schema.Schema) error {
	stmt, err := querysql.NewSQLCompiler().CompileCreateTable(collection, s)
	if err != nil {
		return fmt.Errorf("define %s: %w", collection, err)
	}
	defer d.forget(collection)
	if err := d.exec(ctx, stmt); err != nil {
		return fmt.Errorf("define %s: %w", collection, err)
	}
	return nil
}

// Describe reads the table's columns. It returns nil for an absent table.
func (d *Driver) Describe(ctx context.Context, collection string) (schema.Schema, error) {
	d.mu.RLock()
	cached, ok := d.schemas[collection]
	d.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	s, err := describe(ctx, db, collection)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", collection, err)
	}
	if s == nil {
		return nil, nil
	}

	d.mu.Lock()
	d.schemas[collection] = s
	d.mu.Unlock()
	return s.Clone(), nil
}

func describe(ctx context.Context, db *sql.DB, collection string) (schema.Schema, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+querysql.Quote(collection)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s := schema.Schema{}
	var pks []string
	for rows.Next() {
		var (
			cid     int
			name    string
			declTyp string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &declTyp, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		s[name] = schema.Attribute{
			Type:       querysql.AttributeType(declTyp),
			PrimaryKey: pk > 0,
		}
		if pk > 0 {
			pks = append(pks, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}

	if len(pks) == 1 && s[pks[0]].Type == schema.TypeInteger {
		var ddl string
		err := db.QueryRowContext(ctx,
			"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", collection).Scan(&ddl)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT") {
			attr := s[pks[0]]
			attr.AutoIncrement = true
			s[pks[0]] = attr
		}
	}
	return s, nil
}

// Drop removes a table. Dropping an absent table succeeds.
func (d *Driver) Drop(ctx context.Context, collection string) error {
	defer d.forget(collection)
	if err := d.exec(ctx, querysql.NewSQLCompiler().CompileDropTable(collection)); err != nil {
		return fmt.Errorf("drop %s: %w", collection, err)
	}
	return nil
}

func (d *Driver) Alter(ctx context.Context, collection string, ch schema.Change) error {
	stmt, err := querysql.NewSQLCompiler().CompileAlter(collection, ch)
	if err != nil {
		return fmt.Errorf("alter %s: %w", collection, err)
	}
	defer d.forget(collection)
	if err := d.exec(ctx, stmt); err != nil {
		return fmt.Errorf("alter %s: %w", collection, err)
	}
	return nil
}

func (d *Driver) forget(collection string) {
	d.mu.Lock()
	delete(d.schemas, collection)
	d.mu.Unlock()
}

// tableSchema is Describe for operations that need the table to exist.
func (d *Driver) tableSchema(ctx context.Context, collection string) (schema.Schema, error) {
	s, err := d.Describe(ctx, collection)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchCollection, collection)
	}
	return s, nil
}

func primaryKey(s schema.Schema) string {
	if pks := s.PrimaryKeys(); len(pks) > 0 {
		return pks[0]
	}
	return schema.DefaultPrimaryKey
}
