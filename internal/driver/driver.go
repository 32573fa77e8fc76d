package driver

import (
	"context"

	"github.com/roach88/strata/internal/queryir"
	"github.com/roach88/strata/internal/schema"
)

// Record is one stored record.
type Record map[string]any

// Status is a driver-reported summary of a collection.
type Status struct {
	Collection string
	Records    int64
	Details    map[string]any
}

// JoinSpec describes a relational join between two collections of the
// same driver: Left.Key = Right.ForeignKey. Neither flag means inner join.
type JoinSpec struct {
	Left       string
	Right      string
	Key        string
	ForeignKey string
	LeftOuter  bool
	RightOuter bool
}

// Query converts the spec into its IR form.
func (j JoinSpec) Query() queryir.Join {
	return queryir.Join{
		Left:       j.Left,
		Right:      j.Right,
		Key:        j.Key,
		ForeignKey: j.ForeignKey,
		Kind:       queryir.JoinKindFor(j.LeftOuter, j.RightOuter),
	}
}

// Driver is the minimal store driver. Every other operation is optional and
// detected by type assertion against the interfaces below; a driver that
// does not implement one simply lacks that capability.
type Driver interface {
	Name() string
}

type Initializer interface {
	Initialize(ctx context.Context) error
}

type Teardowner interface {
	Teardown(ctx context.Context) error
}

type Definer interface {
	Define(ctx context.Context, collection string, s schema.Schema) error
}

// Describer returns a nil schema and nil error for an absent collection.
type Describer interface {
	Describe(ctx context.Context, collection string) (schema.Schema, error)
}

type Dropper interface {
	Drop(ctx context.Context, collection string) error
}

type Alterer interface {
	Alter(ctx context.Context, collection string, change schema.Change) error
}

type Creator interface {
	Create(ctx context.Context, collection string, values Record) (Record, error)
}

type Finder interface {
	Find(ctx context.Context, q queryir.Select) ([]Record, error)
}

// Updater applies values to every record matching filter and returns the
// updated records.
type Updater interface {
	Update(ctx context.Context, collection string, filter queryir.Predicate, values Record) ([]Record, error)
}

// Destroyer deletes every record matching filter and returns them.
type Destroyer interface {
	Destroy(ctx context.Context, collection string, filter queryir.Predicate) ([]Record, error)
}

type FindOrCreator interface {
	FindOrCreate(ctx context.Context, q queryir.Select, values Record) (Record, error)
}

type FindAndUpdater interface {
	FindAndUpdate(ctx context.Context, q queryir.Select, values Record) ([]Record, error)
}

type FindAndDestroyer interface {
	FindAndDestroy(ctx context.Context, q queryir.Select) ([]Record, error)
}

// Locker is a store-level lock, taken after the in-process lock is granted
// and released before it.
type Locker interface {
	Lock(ctx context.Context, collection string, key string) error
	Unlock(ctx context.Context, collection string, key string) error
}

type Statuser interface {
	Status(ctx context.Context, collection string) (*Status, error)
}

// AutoIncrementer reports the last value issued by the collection's
// auto-increment sequence.
type AutoIncrementer interface {
	AutoIncrement(ctx context.Context, collection string) (int64, error)
}

type Joiner interface {
	Join(ctx context.Context, j queryir.Join) ([]Record, error)
}
