package adapter

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/queryir"
)

type tokenKey struct{}

// WithToken returns a context carrying a held lock token. Mutations made
// with that context skip locking for records the token covers.
func WithToken(ctx context.Context, tok *lock.Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, tok)
}

// TokenFrom returns the token carried by ctx, or nil.
func TokenFrom(ctx context.Context) *lock.Token {
	tok, _ := ctx.Value(tokenKey{}).(*lock.Token)
	return tok
}

// Lock acquires the records selected by raw.
//
// In pessimistic collections Lock waits its turn (FIFO per key) and
// returns a token that must be passed to Unlock. When the lock was granted
// because a stale holder was reclaimed, the token comes back together
// with a *lock.StaleLockReleasedError. A driver-level lock, if the driver
// has one, is taken after the in-process lock is granted.
//
// A ctx carrying a live token (see WithToken) that overlaps the requested
// records fails with *lock.InvalidTokenError instead of queueing behind
// the caller's own lock.
//
// In optimistic collections Lock never waits: it returns a token whose
// snapshot (see Snapshot) holds deep copies of the selected records.
func (a *Adapter) Lock(ctx context.Context, collection string, raw any) (*lock.Token, error) {
	c, err := criteria.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if a.locks.ModeOf(collection) == lock.ModeOptimistic {
		return a.begin(ctx, collection, c)
	}
	if held := TokenFrom(ctx); held != nil && held.Collection == collection && a.locks.Check(held) == nil {
		if criteria.Overlaps(held.Criteria, &c) {
			return nil, &lock.InvalidTokenError{TokenID: held.ID, Reason: "held lock overlaps " + collection}
		}
	}
	return a.acquire(ctx, collection, &c)
}

func (a *Adapter) acquire(ctx context.Context, collection string, c *criteria.Criteria) (*lock.Token, error) {
	tok, err := a.locks.Lock(ctx, collection, c)
	if tok == nil {
		return nil, err
	}
	if lock.IsStale(err) {
		a.logger.Warn("lock granted after stale reclaim", "collection", collection, "key", tok.Key, "error", err)
	}

	if l := a.ops.locker; l != nil {
		if lerr := l.Lock(ctx, collection, tok.Key); lerr != nil {
			_, _ = a.locks.Unlock(tok)
			return nil, lerr
		}
	}
	return tok, err
}

func (a *Adapter) begin(ctx context.Context, collection string, c criteria.Criteria) (*lock.Token, error) {
	records, err := a.Find(ctx, collection, c)
	if err != nil {
		return nil, err
	}
	tok, err := a.locks.Begin(collection, &c, records)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.snapshots[tok.ID] = records
	a.mu.Unlock()
	return tok, nil
}

// Snapshot returns the records of an optimistic token. Changes made to
// them are written back by Unlock.
func Snapshot(tok *lock.Token) []driver.Record {
	if tok == nil {
		return nil
	}
	records, _ := tok.Data.([]driver.Record)
	return records
}

// Unlock releases a token.
//
// For pessimistic tokens the driver-level lock is released first, then
// the in-process lock; a foreign or expired token fails with
// *lock.InvalidTokenError.
//
// For optimistic tokens Unlock commits the snapshot: it fails with
// *lock.StaleStateError when an overlapping write landed after the
// snapshot was taken, and otherwise writes each changed record back by
// primary key.
func (a *Adapter) Unlock(ctx context.Context, tok *lock.Token) error {
	if tok != nil && tok.Mode == lock.ModeOptimistic {
		return a.commit(ctx, tok)
	}
	if err := a.locks.Check(tok); err != nil {
		return err
	}

	var result *multierror.Error
	if l := a.ops.locker; l != nil {
		if err := l.Unlock(ctx, tok.Collection, tok.Key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if _, err := a.locks.Unlock(tok); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Renew extends a pessimistic token's maximum hold and returns the new
// deadline.
func (a *Adapter) Renew(tok *lock.Token) (time.Time, error) {
	return a.locks.Renew(tok)
}

// Discard abandons an optimistic snapshot without writing anything.
func (a *Adapter) Discard(tok *lock.Token) error {
	a.mu.Lock()
	delete(a.snapshots, tokID(tok))
	a.mu.Unlock()
	return a.locks.Discard(tok)
}

func (a *Adapter) commit(ctx context.Context, tok *lock.Token) error {
	a.mu.Lock()
	original, ok := a.snapshots[tok.ID]
	delete(a.snapshots, tok.ID)
	a.mu.Unlock()

	if err := a.locks.Commit(tok); err != nil {
		return err
	}
	if !ok {
		return nil
	}

	pk := a.primaryKey(tok.Collection)
	before := make(map[string]driver.Record, len(original))
	for _, r := range original {
		before[fmt.Sprint(r[pk])] = r
	}

	u := a.ops.updater
	for _, r := range Snapshot(tok) {
		prev, found := before[fmt.Sprint(r[pk])]
		if !found || r[pk] == nil {
			continue
		}
		changed := make(driver.Record)
		for k, v := range r {
			if k != pk && !reflect.DeepEqual(prev[k], v) {
				changed[k] = v
			}
		}
		if len(changed) == 0 || u == nil {
			continue
		}
		if _, err := u.Update(ctx, tok.Collection, queryir.Equals{Field: pk, Value: r[pk]}, a.stamp(tok.Collection, changed, false)); err != nil {
			return err
		}
	}
	return nil
}

// guard runs fn under the lock for (collection, c).
//
// Pessimistic collections: fn runs while holding the lock, unless ctx
// carries a live token covering c. A carried token that expired, was
// released or was never issued fails with *lock.InvalidTokenError. A stale
// reclaim while waiting is logged and does not stop fn. Optimistic collections: fn runs unlocked and the write
// is recorded so overlapping snapshots fail on commit.
func (a *Adapter) guard(ctx context.Context, collection string, c *criteria.Criteria, fn func(context.Context) error) error {
	if a.locks.ModeOf(collection) == lock.ModeOptimistic {
		if err := fn(ctx); err != nil {
			return err
		}
		a.locks.Touch(collection, c)
		return nil
	}

	covered, err := a.checkHeld(TokenFrom(ctx), collection, c)
	if err != nil {
		return err
	}
	if covered {
		return fn(ctx)
	}

	tok, err := a.acquire(ctx, collection, c)
	if tok == nil {
		return err
	}
	defer func() {
		if uerr := a.Unlock(ctx, tok); uerr != nil {
			a.logger.Warn("unlock failed", "collection", collection, "token", tok.ID, "error", uerr)
		}
	}()
	return fn(WithToken(ctx, tok))
}

// checkHeld validates the token a caller carries into a mutation of
// (collection, c). It reports whether the token covers c.
func (a *Adapter) checkHeld(held *lock.Token, collection string, c *criteria.Criteria) (bool, error) {
	if held == nil || held.Collection != collection {
		return false, nil
	}
	if err := a.locks.Check(held); err != nil {
		return false, err
	}
	if held.Covers(collection, c) {
		return true, nil
	}
	// Waiting here would wait on the caller's own lock.
	if criteria.Overlaps(held.Criteria, c) {
		return false, &lock.InvalidTokenError{TokenID: held.ID, Reason: "held lock overlaps but does not cover " + collection}
	}
	return false, nil
}

// serialize runs fn exclusively among composed fallbacks of this adapter
// that share collection and c. Optimistic collections have no lock to hold
// across a composed operation, so this keeps find-then-write pairs from
// interleaving within the process.
func (a *Adapter) serialize(collection string, c *criteria.Criteria, fn func() error) error {
	key, err := criteria.Key(collection, c)
	if err != nil {
		return err
	}
	mu, _ := a.serial.LoadOrStore(key, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()
	return fn()
}

func tokID(tok *lock.Token) string {
	if tok == nil {
		return ""
	}
	return tok.ID
}

// recordCriteria is the lock scope of a new record: its scalar fields.
// A record with none locks the whole collection.
func recordCriteria(values driver.Record) *criteria.Criteria {
	where := make(map[string]any)
	for k, v := range values {
		switch v.(type) {
		case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			where[k] = v
		}
	}
	if len(where) == 0 {
		return nil
	}
	c, err := criteria.Normalize(map[string]any{"where": where})
	if err != nil {
		return nil
	}
	return &c
}
