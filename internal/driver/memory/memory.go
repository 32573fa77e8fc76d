// Package memory is an in-memory store driver. Data is lost when the
// process exits. It implements every capability, including native joins,
// and is safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/mitchellh/copystructure"

	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/queryir"
	"github.com/roach88/strata/internal/schema"
)

var (
	// ErrNoSuchCollection is returned for operations on an undefined collection.
	ErrNoSuchCollection = errors.New("no such collection")
	// ErrCollectionExists is returned by Define for a defined collection.
	ErrCollectionExists = errors.New("collection exists")
	// ErrDuplicateKey is returned when a primary key is already taken.
	ErrDuplicateKey = errors.New("duplicate primary key")
	// ErrUnknownField is returned when a record names an undeclared field.
	ErrUnknownField = errors.New("unknown field")
	// ErrClosed is returned after Teardown.
	ErrClosed = errors.New("memory store closed")
)

// Driver keeps collections in maps guarded by one RWMutex. Records are
// deep-copied on the way in and out so callers never share state with the
// store.
type Driver struct {
	mu     sync.RWMutex
	tables map[string]*table
	locks  map[string]int // store-level lock key -> holders
	closed bool
}

type table struct {
	schema schema.Schema
	rows   []driver.Record // insertion order
	seq    int64           // last auto-increment value
}

// New creates an empty store.
func New() *Driver {
	return &Driver{
		tables: make(map[string]*table),
		locks:  make(map[string]int),
	}
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "memory" }

// Initialize reopens a torn-down store.
func (d *Driver) Initialize(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
	return nil
}

// Teardown closes the store. Data is kept until the Driver is discarded.
func (d *Driver) Teardown(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) Define(_ context.Context, collection string, s schema.Schema) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.tables[collection]; ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, collection)
	}
	d.tables[collection] = &table{schema: s.Clone()}
	return nil
}

func (d *Driver) Describe(_ context.Context, collection string) (schema.Schema, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	t, ok := d.tables[collection]
	if !ok {
		return nil, nil
	}
	return t.schema.Clone(), nil
}

// Drop removes a collection. Dropping an absent collection succeeds.
func (d *Driver) Drop(_ context.Context, collection string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	delete(d.tables, collection)
	return nil
}

func (d *Driver) Alter(_ context.Context, collection string, ch schema.Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(collection)
	if err != nil {
		return err
	}

	switch ch.Op {
	case schema.AddAttribute:
		if ch.Attribute.PrimaryKey {
			return fmt.Errorf("alter %s: cannot add primary key %s", collection, ch.Name)
		}
		if _, ok := t.schema[ch.Name]; ok {
			return fmt.Errorf("alter %s: field %s exists", collection, ch.Name)
		}
		t.schema[ch.Name] = ch.Attribute
		for _, r := range t.rows {
			r[ch.Name] = nil
		}
	case schema.RemoveAttribute:
		attr, ok := t.schema[ch.Name]
		if !ok {
			return fmt.Errorf("alter %s: %w %s", collection, ErrUnknownField, ch.Name)
		}
		if attr.PrimaryKey {
			return fmt.Errorf("alter %s: cannot remove primary key %s", collection, ch.Name)
		}
		delete(t.schema, ch.Name)
		for _, r := range t.rows {
			delete(r, ch.Name)
		}
	default:
		return fmt.Errorf("alter %s: unknown change %q", collection, ch.Op)
	}
	return nil
}

func (d *Driver) Create(_ context.Context, collection string, values driver.Record) (driver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(collection)
	if err != nil {
		return nil, err
	}
	return t.insert(collection, values)
}

func (d *Driver) Find(_ context.Context, q queryir.Select) ([]driver.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, err := d.tableLocked(q.From)
	if err != nil {
		return nil, err
	}
	return copyRecords(t.find(q))
}

func (d *Driver) Update(_ context.Context, collection string, filter queryir.Predicate, values driver.Record) ([]driver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(collection)
	if err != nil {
		return nil, err
	}
	return t.update(collection, t.find(queryir.Select{From: collection, Filter: filter}), values)
}

func (d *Driver) Destroy(_ context.Context, collection string, filter queryir.Predicate) ([]driver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(collection)
	if err != nil {
		return nil, err
	}
	return t.destroy(t.find(queryir.Select{From: collection, Filter: filter})), nil
}

// FindOrCreate is atomic with respect to other callers of this store.
func (d *Driver) FindOrCreate(_ context.Context, q queryir.Select, values driver.Record) (driver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(q.From)
	if err != nil {
		return nil, err
	}
	if found := t.find(q); len(found) > 0 {
		return deepCopy(found[0])
	}
	return t.insert(q.From, values)
}

// FindAndUpdate is atomic with respect to other callers of this store.
func (d *Driver) FindAndUpdate(_ context.Context, q queryir.Select, values driver.Record) ([]driver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(q.From)
	if err != nil {
		return nil, err
	}
	return t.update(q.From, t.find(q), values)
}

// FindAndDestroy is atomic with respect to other callers of this store.
func (d *Driver) FindAndDestroy(_ context.Context, q queryir.Select) ([]driver.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.tableLocked(q.From)
	if err != nil {
		return nil, err
	}
	return t.destroy(t.find(q)), nil
}

// Lock records a store-level hold on key. The adapter's coordinator
// already serializes holders, so this only tracks them.
func (d *Driver) Lock(_ context.Context, _ string, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.locks[key]++
	return nil
}

func (d *Driver) Unlock(_ context.Context, _ string, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks[key] == 0 {
		return fmt.Errorf("unlock %s: not locked", key)
	}
	d.locks[key]--
	if d.locks[key] == 0 {
		delete(d.locks, key)
	}
	return nil
}

// Locked returns the number of store-level holds on key.
func (d *Driver) Locked(key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.locks[key]
}

func (d *Driver) Status(_ context.Context, collection string) (*driver.Status, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, err := d.tableLocked(collection)
	if err != nil {
		return nil, err
	}
	return &driver.Status{
		Collection: collection,
		Records:    int64(len(t.rows)),
		Details:    map[string]any{"fields": len(t.schema), "sequence": t.seq},
	}, nil
}

func (d *Driver) AutoIncrement(_ context.Context, collection string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, err := d.tableLocked(collection)
	if err != nil {
		return 0, err
	}
	return t.seq, nil
}

func (d *Driver) tableLocked(collection string) (*table, error) {
	if d.closed {
		return nil, ErrClosed
	}
	t, ok := d.tables[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchCollection, collection)
	}
	return t, nil
}

func (t *table) insert(collection string, values driver.Record) (driver.Record, error) {
	row := make(driver.Record, len(t.schema))
	for name := range t.schema {
		row[name] = nil
	}
	for name, v := range values {
		attr, ok := t.schema[name]
		if !ok {
			return nil, fmt.Errorf("create %s: %w %s", collection, ErrUnknownField, name)
		}
		c, err := coerce(attr, v)
		if err != nil {
			return nil, fmt.Errorf("create %s.%s: %w", collection, name, err)
		}
		row[name] = c
	}

	for _, pk := range t.schema.PrimaryKeys() {
		attr := t.schema[pk]
		if row[pk] == nil && attr.AutoIncrement {
			row[pk] = t.seq + 1
		}
		if row[pk] == nil {
			return nil, fmt.Errorf("create %s: primary key %s is required", collection, pk)
		}
	}
	if t.duplicate(row, nil) {
		return nil, fmt.Errorf("create %s: %w", collection, ErrDuplicateKey)
	}
	for _, pk := range t.schema.PrimaryKeys() {
		if n, ok := row[pk].(int64); ok && t.schema[pk].AutoIncrement && n > t.seq {
			t.seq = n
		}
	}

	stored, err := deepCopy(row)
	if err != nil {
		return nil, err
	}
	t.rows = append(t.rows, stored)
	return deepCopy(stored)
}

// duplicate reports whether another row has the same primary key as row.
func (t *table) duplicate(row, self driver.Record) bool {
	pks := t.schema.PrimaryKeys()
	for _, other := range t.rows {
		if self != nil && samePtr(other, self) {
			continue
		}
		same := true
		for _, pk := range pks {
			if cmp, ok := queryir.CompareValues(other[pk], row[pk]); !ok || cmp != 0 {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// find returns the matching stored rows (not copies), sorted and paged.
func (t *table) find(q queryir.Select) []driver.Record {
	var out []driver.Record
	for _, r := range t.rows {
		if queryir.Match(q.Filter, r) {
			out = append(out, r)
		}
	}

	keys := append([]sortKey(nil), toSortKeys(q)...)
	for _, pk := range t.schema.PrimaryKeys() {
		keys = append(keys, sortKey{field: pk})
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			c := compareNullsFirst(out[i][k.field], out[j][k.field])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func (t *table) update(collection string, rows []driver.Record, values driver.Record) ([]driver.Record, error) {
	coerced := make(driver.Record, len(values))
	for name, v := range values {
		attr, ok := t.schema[name]
		if !ok {
			return nil, fmt.Errorf("update %s: %w %s", collection, ErrUnknownField, name)
		}
		c, err := coerce(attr, v)
		if err != nil {
			return nil, fmt.Errorf("update %s.%s: %w", collection, name, err)
		}
		coerced[name] = c
	}

	if len(rows) > 1 {
		for _, pk := range t.schema.PrimaryKeys() {
			if _, ok := coerced[pk]; ok {
				return nil, fmt.Errorf("update %s: %w", collection, ErrDuplicateKey)
			}
		}
	}

	out := make([]driver.Record, 0, len(rows))
	for _, r := range rows {
		next, err := deepCopy(r)
		if err != nil {
			return nil, err
		}
		for name, v := range coerced {
			next[name] = v
		}
		if t.duplicate(next, r) {
			return nil, fmt.Errorf("update %s: %w", collection, ErrDuplicateKey)
		}
		for name, v := range coerced {
			stored, err := copystructure.Copy(v)
			if err != nil {
				return nil, err
			}
			r[name] = stored
		}
		cp, err := deepCopy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (t *table) destroy(rows []driver.Record) []driver.Record {
	doomed := make(map[uintptr]bool, len(rows))
	for _, r := range rows {
		doomed[ptr(r)] = true
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !doomed[ptr(r)] {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(t.rows); i++ {
		t.rows[i] = nil
	}
	t.rows = kept
	// Removed rows are no longer reachable from the table, so they can be
	// handed out without copying.
	return rows
}

type sortKey struct {
	field string
	desc  bool
}

func toSortKeys(q queryir.Select) []sortKey {
	keys := make([]sortKey, len(q.Sort))
	for i, k := range q.Sort {
		keys[i] = sortKey{field: k.Field, desc: k.Desc}
	}
	return keys
}

// compareNullsFirst orders nil before any value, like SQL ascending order.
func compareNullsFirst(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := queryir.CompareValues(a, b)
	return c
}

func ptr(r driver.Record) uintptr {
	return reflect.ValueOf(r).Pointer()
}

func samePtr(a, b driver.Record) bool {
	return ptr(a) == ptr(b)
}

func deepCopy(r driver.Record) (driver.Record, error) {
	v, err := copystructure.Copy(r)
	if err != nil {
		return nil, fmt.Errorf("copy record: %w", err)
	}
	return v.(driver.Record), nil
}

func copyRecords(rs []driver.Record) ([]driver.Record, error) {
	out := make([]driver.Record, len(rs))
	for i, r := range rs {
		cp, err := deepCopy(r)
		if err != nil {
			return nil, err
		}
		out[i] = cp
	}
	return out, nil
}
