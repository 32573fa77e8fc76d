package adapter

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/schema"
)

// Adapter is the single entry point over one store driver.
//
// Capabilities are probed once in New. Every operation routes to the
// driver when it implements it and otherwise returns a benign default;
// use Supports to tell "unsupported" from "no matches".
//
// Thread-safety: all methods are safe for concurrent use.
type Adapter struct {
	driver driver.Driver
	caps   driver.Capabilities
	ops    ops
	cfg    config.Config
	logger *slog.Logger

	locks  *lock.Coordinator
	syncer *schema.Synchronizer

	now     func() time.Time
	tokens  lock.TokenGenerator
	clock   lock.Sequencer
	signals []os.Signal

	mu        sync.RWMutex
	schemas   map[string]schema.Schema   // declared collections
	snapshots map[string][]driver.Record // optimistic token ID -> original records

	// serial serializes composed fallbacks per lock key.
	serial sync.Map

	lifecycle    singleflight.Group
	lifeMu       sync.Mutex
	initialized  bool
	stopSignals  func()
	teardownOnce sync.Once
	teardownErr  error
	done         chan struct{}
}

// New creates an adapter over d. The configuration is validated first.
func New(d driver.Driver, cfg config.Config, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		driver:    d,
		caps:      driver.Probe(d),
		cfg:       cfg,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:       time.Now,
		signals:   defaultSignals,
		schemas:   make(map[string]schema.Schema),
		snapshots: make(map[string][]driver.Record),
		done:      make(chan struct{}),
	}
	a.ops = resolveOps(d, a.caps)
	for _, opt := range opts {
		opt(a)
	}

	lc := cfg.LockConfig(a.logger)
	lc.Tokens = a.tokens
	lc.Clock = a.clock
	lc.Now = a.now
	a.locks = lock.New(lc)
	a.syncer = schema.NewSynchronizer(backend{a}, cfg.Policy(), a.logger)

	a.logger.Debug("adapter created", "driver", d.Name(), "capabilities", a.caps.String())
	return a, nil
}

// Driver returns the underlying driver.
func (a *Adapter) Driver() driver.Driver { return a.driver }

// Capabilities returns the operations the driver implements natively.
func (a *Adapter) Capabilities() driver.Capabilities { return a.caps }

// Supports reports whether the driver implements every capability in c.
func (a *Adapter) Supports(c driver.Capability) bool { return a.caps.Has(c) }

// SyncMode is the mode Sync and SyncAll use.
func (a *Adapter) SyncMode() schema.Mode { return a.cfg.SyncMode() }

// LockMode returns the lock mode of collection.
func (a *Adapter) LockMode(collection string) lock.Mode { return a.locks.ModeOf(collection) }

// Locks exposes the lock coordinator for inspection.
func (a *Adapter) Locks() *lock.Coordinator { return a.locks }

// Schema returns the declared schema of a collection defined or synced
// through this adapter, or nil.
func (a *Adapter) Schema(collection string) schema.Schema {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.schemas[collection]; ok {
		return s.Clone()
	}
	return nil
}

func (a *Adapter) remember(collection string, s schema.Schema) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s == nil {
		delete(a.schemas, collection)
		return
	}
	a.schemas[collection] = s.Clone()
}

// primaryKey returns the first primary key of a known collection, or "id".
func (a *Adapter) primaryKey(collection string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if pks := a.schemas[collection].PrimaryKeys(); len(pks) > 0 {
		return pks[0]
	}
	return schema.DefaultPrimaryKey
}

// stamp sets the timestamp attributes of a known collection. createdAt is
// only set on create and never overrides a caller-supplied value.
func (a *Adapter) stamp(collection string, values driver.Record, creating bool) driver.Record {
	a.mu.RLock()
	s := a.schemas[collection]
	a.mu.RUnlock()
	if s == nil {
		return values
	}

	out := make(driver.Record, len(values)+2)
	for k, v := range values {
		out[k] = v
	}
	now := a.now().UTC()
	if _, ok := s[schema.CreatedAtField]; ok && creating && a.cfg.Timestamps.CreatedAt {
		if _, set := out[schema.CreatedAtField]; !set {
			out[schema.CreatedAtField] = now
		}
	}
	if _, ok := s[schema.UpdatedAtField]; ok && a.cfg.Timestamps.UpdatedAt {
		if _, set := out[schema.UpdatedAtField]; !set {
			out[schema.UpdatedAtField] = now
		}
	}
	return out
}
