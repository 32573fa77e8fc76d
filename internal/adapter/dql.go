package adapter

import (
	"context"

	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/queryir"
)

// Criteria arguments below accept anything criteria.Normalize does: nil for
// the whole collection, an id, a bare where-mapping or a full criteria
// mapping. Invalid criteria fail with *criteria.InvalidCriteriaError before
// the driver is called. Driver errors are returned unchanged.

// Create inserts one record and returns it as stored. Returns (nil, nil)
// when the driver cannot create.
func (a *Adapter) Create(ctx context.Context, collection string, values driver.Record) (driver.Record, error) {
	d := a.ops.creator
	if d == nil {
		return nil, nil
	}
	values = a.stamp(collection, values, true)

	var created driver.Record
	err := a.guard(ctx, collection, recordCriteria(values), func(ctx context.Context) error {
		var err error
		created, err = d.Create(ctx, collection, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateEach inserts records in order and stops at the first failure,
// returning the records created so far.
func (a *Adapter) CreateEach(ctx context.Context, collection string, records []driver.Record) ([]driver.Record, error) {
	out := make([]driver.Record, 0, len(records))
	for _, r := range records {
		created, err := a.Create(ctx, collection, r)
		if err != nil {
			return out, err
		}
		if created != nil {
			out = append(out, created)
		}
	}
	return out, nil
}

// Find returns the matching records. Returns (nil, nil) when the driver
// cannot find.
func (a *Adapter) Find(ctx context.Context, collection string, raw any) ([]driver.Record, error) {
	q, err := a.query(collection, raw)
	if err != nil {
		return nil, err
	}
	d := a.ops.finder
	if d == nil {
		return nil, nil
	}
	return d.Find(ctx, q)
}

// FindOne returns the first matching record or nil.
func (a *Adapter) FindOne(ctx context.Context, collection string, raw any) (driver.Record, error) {
	c, err := criteria.Normalize(raw)
	if err != nil {
		return nil, err
	}
	c.Limit = 1
	found, err := a.Find(ctx, collection, c)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Update sets values on every record matching the where clause of raw.
// Limit, skip and order do not apply. Returns the updated records.
func (a *Adapter) Update(ctx context.Context, collection string, raw any, values driver.Record) ([]driver.Record, error) {
	c, err := criteria.Normalize(raw)
	if err != nil {
		return nil, err
	}
	filter, err := queryir.BuildFilter(c.Where)
	if err != nil {
		return nil, err
	}
	d := a.ops.updater
	if d == nil {
		return nil, nil
	}
	values = a.stamp(collection, values, false)

	var updated []driver.Record
	err = a.guard(ctx, collection, &c, func(ctx context.Context) error {
		var err error
		updated, err = d.Update(ctx, collection, filter, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Destroy removes every record matching the where clause of raw and
// returns them.
func (a *Adapter) Destroy(ctx context.Context, collection string, raw any) ([]driver.Record, error) {
	c, err := criteria.Normalize(raw)
	if err != nil {
		return nil, err
	}
	filter, err := queryir.BuildFilter(c.Where)
	if err != nil {
		return nil, err
	}
	d := a.ops.destroyer
	if d == nil {
		return nil, nil
	}

	var destroyed []driver.Record
	err = a.guard(ctx, collection, &c, func(ctx context.Context) error {
		var err error
		destroyed, err = d.Destroy(ctx, collection, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return destroyed, nil
}

// FindOrCreate returns the first record matching raw, creating values if
// there is none.
//
// Without a native FindOrCreate the adapter composes Find and Create. The
// composition holds the lock for raw, so it is atomic only with respect to
// other callers of this adapter, never against other processes.
func (a *Adapter) FindOrCreate(ctx context.Context, collection string, raw any, values driver.Record) (driver.Record, error) {
	q, err := a.query(collection, raw)
	if err != nil {
		return nil, err
	}
	c, _ := criteria.Normalize(raw)
	values = a.stamp(collection, values, true)

	var result driver.Record
	run := func(ctx context.Context) error {
		if d := a.ops.findOrCreator; d != nil {
			var err error
			result, err = d.FindOrCreate(ctx, q, values)
			return err
		}
		return a.serialize(collection, &c, func() error {
			if d := a.ops.finder; d != nil {
				q.Limit = 1
				found, err := d.Find(ctx, q)
				if err != nil {
					return err
				}
				if len(found) > 0 {
					result = found[0]
					return nil
				}
			}
			if d := a.ops.creator; d != nil {
				var err error
				result, err = d.Create(ctx, collection, values)
				return err
			}
			return nil
		})
	}
	if err := a.guard(ctx, collection, &c, run); err != nil {
		return nil, err
	}
	return result, nil
}

// FindAndUpdate updates the records raw selects, honoring limit, skip and
// order, and returns them.
//
// Without a native FindAndUpdate the adapter finds the records and updates
// them by primary key. The composition is not atomic against other
// processes.
func (a *Adapter) FindAndUpdate(ctx context.Context, collection string, raw any, values driver.Record) ([]driver.Record, error) {
	q, err := a.query(collection, raw)
	if err != nil {
		return nil, err
	}
	c, _ := criteria.Normalize(raw)
	values = a.stamp(collection, values, false)

	var result []driver.Record
	run := func(ctx context.Context) error {
		if d := a.ops.findAndUpdater; d != nil {
			var err error
			result, err = d.FindAndUpdate(ctx, q, values)
			return err
		}
		u := a.ops.updater
		if u == nil {
			return nil
		}
		return a.serialize(collection, &c, func() error {
			filter, err := a.selectByKey(ctx, collection, q)
			if err != nil || filter == nil {
				return err
			}
			result, err = u.Update(ctx, collection, filter, values)
			return err
		})
	}
	if err := a.guard(ctx, collection, &c, run); err != nil {
		return nil, err
	}
	return result, nil
}

// FindAndDestroy removes the records raw selects, honoring limit, skip and
// order, and returns them. The composed fallback is not atomic against
// other processes.
func (a *Adapter) FindAndDestroy(ctx context.Context, collection string, raw any) ([]driver.Record, error) {
	q, err := a.query(collection, raw)
	if err != nil {
		return nil, err
	}
	c, _ := criteria.Normalize(raw)

	var result []driver.Record
	run := func(ctx context.Context) error {
		if d := a.ops.findAndDestroyer; d != nil {
			var err error
			result, err = d.FindAndDestroy(ctx, q)
			return err
		}
		dd := a.ops.destroyer
		if dd == nil {
			return nil
		}
		return a.serialize(collection, &c, func() error {
			filter, err := a.selectByKey(ctx, collection, q)
			if err != nil || filter == nil {
				return err
			}
			result, err = dd.Destroy(ctx, collection, filter)
			return err
		})
	}
	if err := a.guard(ctx, collection, &c, run); err != nil {
		return nil, err
	}
	return result, nil
}

// selectByKey turns a paged query into a primary-key filter over the
// records it selects now. Without Find the query's own filter is used and
// paging is ignored. A nil filter with nil error means nothing matched.
func (a *Adapter) selectByKey(ctx context.Context, collection string, q queryir.Select) (queryir.Predicate, error) {
	f := a.ops.finder
	if f == nil {
		if q.Filter == nil {
			return queryir.And{}, nil
		}
		return q.Filter, nil
	}
	found, err := f.Find(ctx, q)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	pk := a.primaryKey(collection)
	keys := make([]any, len(found))
	for i, r := range found {
		keys[i] = r[pk]
	}
	return queryir.In{Field: pk, Values: keys}, nil
}

// Status reports collection statistics, or (nil, nil) when the driver has
// none.
func (a *Adapter) Status(ctx context.Context, collection string) (*driver.Status, error) {
	d := a.ops.statuser
	if d == nil {
		return nil, nil
	}
	return d.Status(ctx, collection)
}

// AutoIncrement returns the collection's last generated id, or 0 when the
// driver does not track one.
func (a *Adapter) AutoIncrement(ctx context.Context, collection string) (int64, error) {
	d := a.ops.autoIncrementer
	if d == nil {
		return 0, nil
	}
	return d.AutoIncrement(ctx, collection)
}

// Join runs a relational join in the driver. Inner by default; the
// LeftOuter/RightOuter flags select outer variants. A driver without
// native joins fails with *UnsupportedOperationError: the adapter never
// joins in memory.
func (a *Adapter) Join(ctx context.Context, spec driver.JoinSpec) ([]driver.Record, error) {
	d := a.ops.joiner
	if d == nil {
		return nil, &UnsupportedOperationError{Operation: "join", Driver: a.driver.Name()}
	}
	return d.Join(ctx, spec.Query())
}

func (a *Adapter) query(collection string, raw any) (queryir.Select, error) {
	c, err := criteria.Normalize(raw)
	if err != nil {
		return queryir.Select{}, err
	}
	return queryir.Build(collection, c)
}
