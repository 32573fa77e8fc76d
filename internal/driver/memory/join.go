package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/queryir"
	"github.com/roach88/strata/internal/schema"
)

// Join combines two collections with a nested loop. Rows are ordered by
// the left primary key then the right one, nulls first, matching the SQL
// driver's ORDER BY.
func (d *Driver) Join(_ context.Context, j queryir.Join) ([]driver.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	left, err := d.tableLocked(j.Left)
	if err != nil {
		return nil, err
	}
	right, err := d.tableLocked(j.Right)
	if err != nil {
		return nil, err
	}
	if _, ok := left.schema[j.Key]; !ok {
		return nil, fmt.Errorf("join %s: %w %s", j.Left, ErrUnknownField, j.Key)
	}
	if _, ok := right.schema[j.ForeignKey]; !ok {
		return nil, fmt.Errorf("join %s: %w %s", j.Right, ErrUnknownField, j.ForeignKey)
	}

	leftFields := fieldsOrAll(j.LeftFields, left.schema)
	rightFields := fieldsOrAll(j.RightFields, right.schema)
	outerLeft := j.Kind == queryir.LeftJoin || j.Kind == queryir.FullJoin
	outerRight := j.Kind == queryir.RightJoin || j.Kind == queryir.FullJoin

	var out []driver.Record
	rightMatched := make([]bool, len(right.rows))
	for _, l := range left.rows {
		matched := false
		for i, r := range right.rows {
			if l[j.Key] == nil || r[j.ForeignKey] == nil {
				continue
			}
			if cmp, ok := queryir.CompareValues(l[j.Key], r[j.ForeignKey]); ok && cmp == 0 {
				matched = true
				rightMatched[i] = true
				out = append(out, joined(j, l, r, leftFields, rightFields))
			}
		}
		if !matched && outerLeft {
			out = append(out, joined(j, l, nil, leftFields, rightFields))
		}
	}
	if outerRight {
		for i, r := range right.rows {
			if !rightMatched[i] {
				out = append(out, joined(j, nil, r, leftFields, rightFields))
			}
		}
	}

	leftPK := queryir.Qualify(j.Left, primaryKey(left.schema))
	rightPK := queryir.Qualify(j.Right, primaryKey(right.schema))
	sort.SliceStable(out, func(a, b int) bool {
		if c := compareNullsFirst(out[a][leftPK], out[b][leftPK]); c != 0 {
			return c < 0
		}
		return compareNullsFirst(out[a][rightPK], out[b][rightPK]) < 0
	})

	return copyRecords(out)
}

func joined(j queryir.Join, l, r driver.Record, leftFields, rightFields []string) driver.Record {
	row := make(driver.Record, len(leftFields)+len(rightFields))
	for _, f := range leftFields {
		row[queryir.Qualify(j.Left, f)] = l[f] // nil for an unmatched side
	}
	for _, f := range rightFields {
		row[queryir.Qualify(j.Right, f)] = r[f]
	}
	return row
}

func fieldsOrAll(fields []string, s schema.Schema) []string {
	if len(fields) > 0 {
		return fields
	}
	return s.Names()
}

func primaryKey(s schema.Schema) string {
	if pks := s.PrimaryKeys(); len(pks) > 0 {
		return pks[0]
	}
	return schema.DefaultPrimaryKey
}
