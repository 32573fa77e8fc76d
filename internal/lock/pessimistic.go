package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/strata/internal/criteria"
)

// DefaultMaxHold bounds how long a pessimistic lock may be held.
const DefaultMaxHold = 30 * time.Second

// maxReclaimed bounds the reclaimed token IDs and reclaim records kept for
// reporting. Older reclaimed tokens are reported as not held.
const maxReclaimed = 1024

// Pessimistic serializes access to overlapping (collection, criteria)
// resource sets.
//
// One mutex guards the held-entry table and the per-collection wait queues.
// A waiter parks on its own buffered channel and is handed the lock
// directly by whoever releases it, so there is no polling and no thundering
// herd. A newcomer waits if it overlaps a held entry or any earlier waiter,
// which keeps same-key acquisitions first-come-first-served.
type Pessimistic struct {
	mu      sync.Mutex
	held    map[string]map[string]*entry // collection -> token ID -> entry
	queues  map[string][]*waiter         // collection -> FIFO
	expired map[string]struct{}          // reclaimed token IDs not yet reported
	reaped  []string                     // expired IDs, oldest first
	stale   []*StaleLockReleasedError
	closed  bool

	maxReclaimed int

	maxHold time.Duration
	clock   Sequencer
	tokens  TokenGenerator
	now     func() time.Time
	logger  *slog.Logger
}

type entry struct {
	token *Token
	timer *time.Timer
	gen   int
}

type waiter struct {
	collection string
	criteria   *criteria.Criteria
	key        string
	ready      chan grant // buffered, receives exactly one grant
	granted    bool
}

type grant struct {
	token *Token
	err   error
}

// NewPessimistic creates a pessimistic coordinator from cfg. Zero fields
// take defaults.
func NewPessimistic(cfg Config) *Pessimistic {
	cfg = cfg.withDefaults()
	return &Pessimistic{
		held:    make(map[string]map[string]*entry),
		queues:  make(map[string][]*waiter),
		expired: make(map[string]struct{}),
		maxHold: cfg.MaxHold,

		maxReclaimed: maxReclaimed,
		clock:   cfg.Clock,
		tokens:  cfg.Tokens,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Lock acquires the resource set (collection, c), waiting in FIFO order
// behind overlapping holders and earlier waiters. A nil or empty c locks
// the whole collection.
//
// If the lock was granted because a stale holder was reclaimed, Lock
// returns the token together with a *StaleLockReleasedError; the token is
// valid and must be unlocked. If ctx is cancelled while waiting, the waiter
// is removed and ctx.Err() is returned.
func (p *Pessimistic) Lock(ctx context.Context, collection string, c *criteria.Criteria) (*Token, error) {
	key, err := criteria.Key(collection, c)
	if err != nil {
		return nil, err
	}
	if c != nil {
		cl := c.Clone()
		c = &cl
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if !p.blockedLocked(collection, c, len(p.queues[collection])) {
		tok := p.grantLocked(collection, c, key)
		p.mu.Unlock()
		p.logger.Debug("lock granted", "collection", collection, "key", key, "token", tok.ID, "seq", tok.Seq)
		return tok, nil
	}

	w := &waiter{collection: collection, criteria: c, key: key, ready: make(chan grant, 1)}
	p.queues[collection] = append(p.queues[collection], w)
	p.mu.Unlock()
	p.logger.Debug("lock queued", "collection", collection, "key", key)

	select {
	case g := <-w.ready:
		return g.token, g.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	if w.granted {
		// Granted concurrently with the cancellation: pass the lock on
		// instead of dropping it.
		p.mu.Unlock()
		if g := <-w.ready; g.token != nil {
			_, _ = p.Unlock(g.token)
		}
		return nil, ctx.Err()
	}
	p.removeWaiterLocked(w)
	p.dispatchLocked(collection, nil)
	p.mu.Unlock()
	return nil, ctx.Err()
}

// Unlock releases a held token and hands the lock to the next eligible
// waiters. It returns the logical time of the release.
func (p *Pessimistic) Unlock(tok *Token) (int64, error) {
	if tok == nil {
		return 0, &InvalidTokenError{Reason: "nil token"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookupLocked(tok)
	if err != nil {
		return 0, err
	}
	e.timer.Stop()
	delete(p.held[tok.Collection], tok.ID)
	seq := p.clock.Next()
	p.logger.Debug("lock released", "collection", tok.Collection, "key", tok.Key, "token", tok.ID, "seq", seq)
	p.dispatchLocked(tok.Collection, nil)
	return seq, nil
}

// Renew restarts the maximum-hold timer of a held token and returns the
// new deadline.
func (p *Pessimistic) Renew(tok *Token) (time.Time, error) {
	if tok == nil {
		return time.Time{}, &InvalidTokenError{Reason: "nil token"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookupLocked(tok)
	if err != nil {
		return time.Time{}, err
	}
	e.timer.Stop()
	e.gen++
	p.armLocked(e)
	return p.now().Add(p.maxHold), nil
}

// Check reports whether tok is currently held, without releasing it.
func (p *Pessimistic) Check(tok *Token) error {
	if tok == nil {
		return &InvalidTokenError{Reason: "nil token"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.held[tok.Collection][tok.ID]; ok && e.token.Key == tok.Key {
		return nil
	}
	if _, reclaimed := p.expired[tok.ID]; reclaimed {
		return &InvalidTokenError{TokenID: tok.ID, Reason: "lock expired and was reclaimed"}
	}
	return &InvalidTokenError{TokenID: tok.ID, Reason: "not held"}
}

// Held returns the number of held locks.
func (p *Pessimistic) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.held {
		n += len(m)
	}
	return n
}

// Waiting returns the number of queued waiters.
func (p *Pessimistic) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Stale returns the most recent reclaims, oldest first.
func (p *Pessimistic) Stale() []*StaleLockReleasedError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*StaleLockReleasedError(nil), p.stale...)
}

// Close stops all hold timers and fails every waiter with ErrClosed.
// Held tokens become invalid.
func (p *Pessimistic) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, m := range p.held {
		for _, e := range m {
			e.timer.Stop()
		}
	}
	for _, q := range p.queues {
		for _, w := range q {
			w.granted = true
			w.ready <- grant{err: ErrClosed}
		}
	}
	p.held = make(map[string]map[string]*entry)
	p.queues = make(map[string][]*waiter)
}

func (p *Pessimistic) lookupLocked(tok *Token) (*entry, error) {
	e, ok := p.held[tok.Collection][tok.ID]
	if ok && e.token.Key == tok.Key {
		return e, nil
	}
	if _, reclaimed := p.expired[tok.ID]; reclaimed {
		delete(p.expired, tok.ID)
		return nil, &InvalidTokenError{TokenID: tok.ID, Reason: "lock expired and was reclaimed"}
	}
	return nil, &InvalidTokenError{TokenID: tok.ID, Reason: "not held"}
}

// blockedLocked reports whether c overlaps a held entry of the collection
// or any of the first n waiters in its queue.
func (p *Pessimistic) blockedLocked(collection string, c *criteria.Criteria, n int) bool {
	for _, e := range p.held[collection] {
		if criteria.Overlaps(e.token.Criteria, c) {
			return true
		}
	}
	for _, w := range p.queues[collection][:n] {
		if criteria.Overlaps(w.criteria, c) {
			return true
		}
	}
	return false
}

func (p *Pessimistic) grantLocked(collection string, c *criteria.Criteria, key string) *Token {
	now := p.now()
	tok := &Token{
		ID:         p.tokens.Generate(),
		Collection: collection,
		Criteria:   c,
		Key:        key,
		Mode:       ModePessimistic,
		Seq:        p.clock.Next(),
		AcquiredAt: now,
		Deadline:   now.Add(p.maxHold),
	}
	e := &entry{token: tok}
	p.armLocked(e)
	if p.held[collection] == nil {
		p.held[collection] = make(map[string]*entry)
	}
	p.held[collection][tok.ID] = e
	return tok
}

func (p *Pessimistic) armLocked(e *entry) {
	gen := e.gen
	tok := e.token
	e.timer = time.AfterFunc(p.maxHold, func() { p.expire(tok, gen) })
}

// dispatchLocked grants the lock to every queued waiter that no longer
// conflicts, in queue order. staleErr, when set, is delivered with each grant.
func (p *Pessimistic) dispatchLocked(collection string, staleErr error) {
	queue := p.queues[collection]
	remaining := queue[:0]
	for _, w := range queue {
		if p.blockedLocked(collection, w.criteria, 0) || overlapsAny(remaining, w.criteria) {
			remaining = append(remaining, w)
			continue
		}
		w.granted = true
		w.ready <- grant{token: p.grantLocked(collection, w.criteria, w.key), err: staleErr}
	}
	for i := len(remaining); i < len(queue); i++ {
		queue[i] = nil
	}
	if len(remaining) == 0 {
		delete(p.queues, collection)
		return
	}
	p.queues[collection] = remaining
}

func overlapsAny(ws []*waiter, c *criteria.Criteria) bool {
	for _, w := range ws {
		if criteria.Overlaps(w.criteria, c) {
			return true
		}
	}
	return false
}

func (p *Pessimistic) removeWaiterLocked(w *waiter) {
	queue := p.queues[w.collection]
	for i, q := range queue {
		if q == w {
			p.queues[w.collection] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(p.queues[w.collection]) == 0 {
		delete(p.queues, w.collection)
	}
}

func (p *Pessimistic) expire(tok *Token, gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.held[tok.Collection][tok.ID]
	if !ok || e.gen != gen {
		return
	}
	delete(p.held[tok.Collection], tok.ID)

	staleErr := &StaleLockReleasedError{
		Collection: tok.Collection,
		Key:        tok.Key,
		TokenID:    tok.ID,
		AcquiredAt: tok.AcquiredAt,
		MaxHold:    p.maxHold,
	}
	p.recordReclaimLocked(staleErr)
	p.clock.Next()
	p.logger.Warn("reclaimed stale lock",
		"collection", tok.Collection, "key", tok.Key, "token", tok.ID, "max_hold", p.maxHold)
	p.dispatchLocked(tok.Collection, staleErr)
}

// recordReclaimLocked remembers a reclaim, dropping the oldest entries
// beyond maxReclaimed. Holders that crashed never report back, so nothing
// else would ever remove them.
func (p *Pessimistic) recordReclaimLocked(se *StaleLockReleasedError) {
	p.expired[se.TokenID] = struct{}{}
	p.reaped = append(p.reaped, se.TokenID)
	p.stale = append(p.stale, se)
	if n := len(p.reaped) - p.maxReclaimed; n > 0 {
		for _, id := range p.reaped[:n] {
			delete(p.expired, id)
		}
		p.reaped = append(p.reaped[:0], p.reaped[n:]...)
	}
	if n := len(p.stale) - p.maxReclaimed; n > 0 {
		p.stale = append(p.stale[:0], p.stale[n:]...)
	}
}
