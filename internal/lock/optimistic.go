package lock

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/roach88/strata/internal/criteria"
)

// Optimistic implements clone-and-merge coordination: Begin hands out a
// deep copy of the current state, writers record what they touched, and
// Commit rejects a snapshot whose resource set was written after it was
// taken. The first committer wins.
type Optimistic struct {
	mu     sync.Mutex
	active map[string]*Token   // token ID -> open snapshot
	writes map[string][]write  // collection -> writes since the oldest open snapshot

	clock  Sequencer
	tokens TokenGenerator
	now    func() time.Time
	logger *slog.Logger
}

type write struct {
	criteria *criteria.Criteria
	seq      int64
}

// NewOptimistic creates an optimistic tracker from cfg.
func NewOptimistic(cfg Config) *Optimistic {
	cfg = cfg.withDefaults()
	return &Optimistic{
		active: make(map[string]*Token),
		writes: make(map[string][]write),
		clock:  cfg.Clock,
		tokens: cfg.Tokens,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// Begin opens a snapshot of data for (collection, c). The returned token's
// Data is a deep copy; the caller may modify it freely.
func (o *Optimistic) Begin(collection string, c *criteria.Criteria, data any) (*Token, error) {
	key, err := criteria.Key(collection, c)
	if err != nil {
		return nil, err
	}
	snapshot, err := copystructure.Config{Lock: true}.Copy(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", key, err)
	}
	if c != nil {
		cl := c.Clone()
		c = &cl
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	tok := &Token{
		ID:         o.tokens.Generate(),
		Collection: collection,
		Criteria:   c,
		Key:        key,
		Mode:       ModeOptimistic,
		Seq:        o.clock.Next(),
		AcquiredAt: o.now(),
		Data:       snapshot,
	}
	o.active[tok.ID] = tok
	return tok, nil
}

// Touch records a write to (collection, c) and returns its logical time.
func (o *Optimistic) Touch(collection string, c *criteria.Criteria) int64 {
	if c != nil {
		cl := c.Clone()
		c = &cl
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	seq := o.clock.Next()
	if len(o.active) > 0 {
		o.writes[collection] = append(o.writes[collection], write{criteria: c, seq: seq})
	}
	return seq
}

// Commit closes a snapshot. It fails with *StaleStateError if an
// overlapping write was recorded after the snapshot began; otherwise the
// commit itself is recorded as a write so later commits of overlapping
// snapshots fail. The check and the record happen atomically.
func (o *Optimistic) Commit(tok *Token) error {
	if tok == nil {
		return &InvalidTokenError{Reason: "nil token"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[tok.ID]; !ok {
		return &InvalidTokenError{TokenID: tok.ID, Reason: "no open snapshot"}
	}
	delete(o.active, tok.ID)

	for _, w := range o.writes[tok.Collection] {
		if w.seq > tok.Seq && criteria.Overlaps(w.criteria, tok.Criteria) {
			o.pruneLocked()
			o.logger.Debug("snapshot rejected", "collection", tok.Collection, "key", tok.Key, "snapshot", tok.Seq, "write", w.seq)
			return &StaleStateError{
				Collection:  tok.Collection,
				Key:         tok.Key,
				SnapshotSeq: tok.Seq,
				WriteSeq:    w.seq,
			}
		}
	}

	seq := o.clock.Next()
	if len(o.active) > 0 {
		o.writes[tok.Collection] = append(o.writes[tok.Collection], write{criteria: tok.Criteria, seq: seq})
	}
	o.pruneLocked()
	return nil
}

// Discard closes a snapshot without committing.
func (o *Optimistic) Discard(tok *Token) error {
	if tok == nil {
		return &InvalidTokenError{Reason: "nil token"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[tok.ID]; !ok {
		return &InvalidTokenError{TokenID: tok.ID, Reason: "no open snapshot"}
	}
	delete(o.active, tok.ID)
	o.pruneLocked()
	return nil
}

// Open returns the number of open snapshots.
func (o *Optimistic) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// pruneLocked drops writes no open snapshot can conflict with.
func (o *Optimistic) pruneLocked() {
	oldest := int64(math.MaxInt64)
	for _, t := range o.active {
		oldest = min(oldest, t.Seq)
	}
	for collection, ws := range o.writes {
		kept := ws[:0]
		for _, w := range ws {
			if w.seq > oldest {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(o.writes, collection)
			continue
		}
		o.writes[collection] = kept
	}
}
