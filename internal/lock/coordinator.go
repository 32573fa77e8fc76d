package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/strata/internal/criteria"
)

// Config configures a Coordinator. Zero fields take defaults.
type Config struct {
	// Mode is the default for collections not listed in Collections.
	Mode        Mode
	Collections map[string]Mode
	MaxHold     time.Duration

	Logger *slog.Logger
	Clock  Sequencer
	Tokens TokenGenerator
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePessimistic
	}
	if c.MaxHold <= 0 {
		c.MaxHold = DefaultMaxHold
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = NewClock()
	}
	if c.Tokens == nil {
		c.Tokens = UUIDv7Generator{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Coordinator routes each collection to its configured mode. The mode of a
// collection is fixed for the lifetime of the coordinator.
type Coordinator struct {
	cfg         Config
	pessimistic *Pessimistic
	optimistic  *Optimistic
}

// New creates a coordinator. Both strategies share one clock so sequence
// numbers are comparable across modes.
func New(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:         cfg,
		pessimistic: NewPessimistic(cfg),
		optimistic:  NewOptimistic(cfg),
	}
}

// ModeOf returns the mode configured for collection.
func (c *Coordinator) ModeOf(collection string) Mode {
	if m, ok := c.cfg.Collections[collection]; ok && m != "" {
		return m
	}
	return c.cfg.Mode
}

// Lock acquires a pessimistic lock. See Pessimistic.Lock.
func (c *Coordinator) Lock(ctx context.Context, collection string, crit *criteria.Criteria) (*Token, error) {
	if err := c.require(collection, ModePessimistic); err != nil {
		return nil, err
	}
	return c.pessimistic.Lock(ctx, collection, crit)
}

// Unlock releases a pessimistic token. See Pessimistic.Unlock.
func (c *Coordinator) Unlock(tok *Token) (int64, error) {
	if tok != nil && tok.Mode == ModeOptimistic {
		return 0, &ModeConflictError{Collection: tok.Collection, Configured: ModeOptimistic, Requested: ModePessimistic}
	}
	return c.pessimistic.Unlock(tok)
}

// Check validates a pessimistic token. See Pessimistic.Check.
func (c *Coordinator) Check(tok *Token) error {
	if tok != nil && tok.Mode == ModeOptimistic {
		return &ModeConflictError{Collection: tok.Collection, Configured: ModeOptimistic, Requested: ModePessimistic}
	}
	return c.pessimistic.Check(tok)
}

// Renew extends a pessimistic token's hold.
func (c *Coordinator) Renew(tok *Token) (time.Time, error) {
	if tok != nil && tok.Mode == ModeOptimistic {
		return time.Time{}, &ModeConflictError{Collection: tok.Collection, Configured: ModeOptimistic, Requested: ModePessimistic}
	}
	return c.pessimistic.Renew(tok)
}

// Begin opens an optimistic snapshot. See Optimistic.Begin.
func (c *Coordinator) Begin(collection string, crit *criteria.Criteria, data any) (*Token, error) {
	if err := c.require(collection, ModeOptimistic); err != nil {
		return nil, err
	}
	return c.optimistic.Begin(collection, crit, data)
}

// Touch records a write for optimistic collections; it is a no-op for
// pessimistic ones.
func (c *Coordinator) Touch(collection string, crit *criteria.Criteria) {
	if c.ModeOf(collection) == ModeOptimistic {
		c.optimistic.Touch(collection, crit)
	}
}

// Commit closes an optimistic snapshot. See Optimistic.Commit.
func (c *Coordinator) Commit(tok *Token) error {
	if tok != nil && tok.Mode != ModeOptimistic {
		return &ModeConflictError{Collection: tok.Collection, Configured: ModePessimistic, Requested: ModeOptimistic}
	}
	return c.optimistic.Commit(tok)
}

// Discard closes an optimistic snapshot without committing.
func (c *Coordinator) Discard(tok *Token) error {
	return c.optimistic.Discard(tok)
}

// Pessimistic exposes the pessimistic strategy for inspection.
func (c *Coordinator) Pessimistic() *Pessimistic {
	return c.pessimistic
}

// Optimistic exposes the optimistic strategy for inspection.
func (c *Coordinator) Optimistic() *Optimistic {
	return c.optimistic
}

// Close shuts down the pessimistic strategy. See Pessimistic.Close.
func (c *Coordinator) Close() {
	c.pessimistic.Close()
}

func (c *Coordinator) require(collection string, want Mode) error {
	if have := c.ModeOf(collection); have != want {
		return &ModeConflictError{Collection: collection, Configured: have, Requested: want}
	}
	return nil
}
