package adapter

import (
	"context"

	"github.com/roach88/strata/internal/schema"
)

// Define prepares c (primary key, timestamps, canonical descriptors) and
// creates it. Fails with *schema.CollectionAlreadyExistsError when the
// store already describes the collection. A driver without Define accepts
// the definition as a no-op.
func (a *Adapter) Define(ctx context.Context, c schema.Collection) (schema.Schema, error) {
	s, err := a.syncer.Define(ctx, c)
	if err != nil {
		return nil, err
	}
	a.remember(c.Identity, s)
	return s, nil
}

// Describe returns the store's schema for collection, or nil when the
// collection is absent or the driver cannot describe.
func (a *Adapter) Describe(ctx context.Context, collection string) (schema.Schema, error) {
	return backend{a}.Describe(ctx, collection)
}

// Drop removes the collection and its data.
func (a *Adapter) Drop(ctx context.Context, collection string) error {
	if err := (backend{a}).Drop(ctx, collection); err != nil {
		return err
	}
	a.remember(collection, nil)
	return nil
}

// Alter applies one schema change.
func (a *Adapter) Alter(ctx context.Context, collection string, ch schema.Change) error {
	if err := (backend{a}).Alter(ctx, collection, ch); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.schemas[collection]; ok {
		switch ch.Op {
		case schema.AddAttribute:
			s[ch.Name] = ch.Attribute
		case schema.RemoveAttribute:
			delete(s, ch.Name)
		}
	}
	return nil
}

// Sync reconciles c with the store using SyncMode. The report is returned
// even when individual attribute changes failed.
func (a *Adapter) Sync(ctx context.Context, c schema.Collection) (*schema.Report, error) {
	report, err := a.syncer.Sync(ctx, a.SyncMode(), c)
	if report != nil {
		a.rememberDeclared(c)
	}
	return report, err
}

// SyncAll synchronizes several collections concurrently. Reports are in
// input order.
func (a *Adapter) SyncAll(ctx context.Context, cs []schema.Collection) ([]*schema.Report, error) {
	reports, err := a.syncer.SyncAll(ctx, a.SyncMode(), cs)
	for i, r := range reports {
		if r != nil {
			a.rememberDeclared(cs[i])
		}
	}
	return reports, err
}

func (a *Adapter) rememberDeclared(c schema.Collection) {
	if s, err := schema.Prepare(c, a.cfg.Policy()); err == nil {
		a.remember(c.Identity, s)
	}
}

// backend presents the driver's DDL to the synchronizer, substituting
// benign defaults for missing capabilities: an undescribable collection is
// absent, and define, alter and drop succeed without effect.
type backend struct{ a *Adapter }

func (b backend) Describe(ctx context.Context, collection string) (schema.Schema, error) {
	d := b.a.ops.describer
	if d == nil {
		return nil, nil
	}
	return d.Describe(ctx, collection)
}

func (b backend) Define(ctx context.Context, collection string, s schema.Schema) error {
	d := b.a.ops.definer
	if d == nil {
		b.a.logger.Debug("driver cannot define, skipping", "collection", collection)
		return nil
	}
	return d.Define(ctx, collection, s)
}

func (b backend) Alter(ctx context.Context, collection string, ch schema.Change) error {
	d := b.a.ops.alterer
	if d == nil {
		b.a.logger.Debug("driver cannot alter, skipping", "collection", collection, "field", ch.Name)
		return nil
	}
	return d.Alter(ctx, collection, ch)
}

func (b backend) Drop(ctx context.Context, collection string) error {
	d := b.a.ops.dropper
	if d == nil {
		return nil
	}
	return d.Drop(ctx, collection)
}
