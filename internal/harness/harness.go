package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/strata/internal/adapter"
	"github.com/roach88/strata/internal/catalog"
	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/driver/registry"
	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
)

// Epoch is the frozen wall-clock time every scenario runs at, so timestamps
// in traces are reproducible.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultStepTimeout bounds each step. A lock step that would wait on a
// lock the scenario itself holds fails with KindTimeout instead of hanging.
const DefaultStepTimeout = time.Second

// Harness executes one scenario against a fresh adapter.
type Harness struct {
	adapter *adapter.Adapter
	models  *catalog.Catalog
	tokens  map[string]*lock.Token
	timeout time.Duration
	result  *Result
}

type options struct {
	driver  driver.Driver
	logger  *slog.Logger
	dataDir string
	timeout time.Duration
}

// Option configures Run.
type Option func(*options)

// WithDriver runs the scenario against d instead of opening the
// scenario's driver.
func WithDriver(d driver.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithLogger sets the adapter's logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDataDir stores sqlite scenarios in dir/<name>.db instead of memory.
func WithDataDir(dir string) Option {
	return func(o *options) { o.dataDir = dir }
}

// WithStepTimeout overrides DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Run executes a scenario and returns its result.
//
// Each run gets its own store, a deterministic token generator and logical
// clock, and a wall clock frozen at Epoch. The models are synchronized
// before the first step. Failed expectations are reported in the result;
// the returned error is reserved for setup failures.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	models := &catalog.Catalog{}
	if len(s.Models) > 0 {
		var err error
		models, err = catalog.Load(s.Models...)
		if err != nil {
			return nil, fmt.Errorf("failed to load models: %w", err)
		}
	}

	cfg := config.Default()
	cfg.Persistent = s.Persistent
	if s.Driver != "" {
		cfg.Driver.Name = s.Driver
	}
	cfg.Lock.Collections = models.LockModes()
	for name, mode := range s.Lock {
		cfg.Lock.Collections[name] = mode
	}

	d := o.driver
	if d == nil {
		path := ":memory:"
		if o.dataDir != "" {
			path = filepath.Join(o.dataDir, s.Name+".db")
		}
		var err error
		d, err = registry.Open(cfg.Driver.Name, path, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open driver: %w", err)
		}
	}

	a, err := adapter.New(d, cfg,
		adapter.WithLogger(o.logger),
		adapter.WithoutSignalHooks(),
		adapter.WithTokenGenerator(testutil.NewSequentialTokenGenerator("tok")),
		adapter.WithSequencer(testutil.NewDeterministicClock()),
		adapter.WithNow(testutil.NewManualTime(Epoch).Now),
	)
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize driver: %w", err)
	}
	defer func() {
		if err := a.Teardown(context.Background()); err != nil {
			o.logger.Error("teardown failed", "scenario", s.Name, "error", err)
		}
	}()

	if _, err := a.SyncAll(ctx, models.Collections()); err != nil {
		return nil, fmt.Errorf("failed to sync models: %w", err)
	}

	h := &Harness{
		adapter: a,
		models:  models,
		tokens:  make(map[string]*lock.Token),
		timeout: o.timeout,
		result:  NewResult(),
	}
	for i, step := range s.Steps {
		h.execute(ctx, i, step)
	}

	actx := &AssertionContext{Ctx: ctx, Adapter: a}
	for _, msg := range EvaluateAssertions(h.result, s.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if tok := h.tokens[step.Token]; tok != nil && tok.Mode == lock.ModePessimistic {
		ctx = adapter.WithToken(ctx, tok)
	}

	out, err := h.dispatch(ctx, step)
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Seq:        int64(i + 1),
		Op:         step.Op,
		Collection: step.Collection,
		Args:       stepArgs(step),
		Result:     plain(out),
		Error:      ErrorKind(err),
	})

	label := fmt.Sprintf("steps[%d] (%s)", i, step.Op)
	for _, msg := range checkExpect(step.Expect, out, err) {
		h.result.AddError(label + ": " + msg)
	}
}

// dispatch runs one step against the adapter.
func (h *Harness) dispatch(ctx context.Context, step Step) (any, error) {
	a := h.adapter
	c := step.Collection

	switch step.Op {
	case "define":
		return a.Define(ctx, schema.Collection{Identity: c, Attributes: step.Attributes})
	case "sync":
		decl, err := h.declaration(step)
		if err != nil {
			return nil, err
		}
		return a.Sync(ctx, decl)
	case "describe":
		return a.Describe(ctx, c)
	case "drop":
		return nil, a.Drop(ctx, c)
	case "create":
		return a.Create(ctx, c, driver.Record(step.Values))
	case "createEach":
		records := make([]driver.Record, len(step.Records))
		for i, r := range step.Records {
			records[i] = driver.Record(r)
		}
		return a.CreateEach(ctx, c, records)
	case "find":
		return a.Find(ctx, c, step.Criteria)
	case "findOne":
		return a.FindOne(ctx, c, step.Criteria)
	case "update":
		return a.Update(ctx, c, step.Criteria, driver.Record(step.Values))
	case "destroy":
		return a.Destroy(ctx, c, step.Criteria)
	case "findOrCreate":
		return a.FindOrCreate(ctx, c, step.Criteria, driver.Record(step.Values))
	case "findAndUpdate":
		return a.FindAndUpdate(ctx, c, step.Criteria, driver.Record(step.Values))
	case "findAndDestroy":
		return a.FindAndDestroy(ctx, c, step.Criteria)
	case "lock":
		tok, err := a.Lock(ctx, c, step.Criteria)
		if tok != nil && step.As != "" {
			h.tokens[step.As] = tok
		}
		return tok, err
	case "unlock":
		return nil, a.Unlock(ctx, h.tokens[step.Token])
	case "renew":
		deadline, err := a.Renew(h.tokens[step.Token])
		if err != nil {
			return nil, err
		}
		return map[string]any{"deadline": deadline}, nil
	case "discard":
		return nil, a.Discard(h.tokens[step.Token])
	case "edit":
		snap := adapter.Snapshot(h.tokens[step.Token])
		for _, r := range snap {
			for k, v := range step.Values {
				r[k] = v
			}
		}
		return snap, nil
	case "join":
		j := step.Join
		return a.Join(ctx, driver.JoinSpec{
			Left:       j.Left,
			Right:      j.Right,
			Key:        j.Key,
			ForeignKey: j.ForeignKey,
			LeftOuter:  j.LeftOuter,
			RightOuter: j.RightOuter,
		})
	case "status":
		return a.Status(ctx, c)
	case "autoIncrement":
		return a.AutoIncrement(ctx, c)
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// declaration returns the collection a sync step declares inline, or the
// model of the same name.
func (h *Harness) declaration(step Step) (schema.Collection, error) {
	if step.Attributes != nil {
		return schema.Collection{Identity: step.Collection, Attributes: step.Attributes}, nil
	}
	if m, ok := h.models.Lookup(step.Collection); ok {
		return m.Collection, nil
	}
	return schema.Collection{}, fmt.Errorf("sync %s: no attributes and no model", step.Collection)
}

func stepArgs(step Step) map[string]any {
	args := make(map[string]any)
	if step.Criteria != nil {
		args["criteria"] = step.Criteria
	}
	if step.Values != nil {
		args["values"] = step.Values
	}
	if step.Records != nil {
		args["records"] = step.Records
	}
	if step.Attributes != nil {
		args["attributes"] = step.Attributes
	}
	if step.Join != nil {
		args["join"] = map[string]any{
			"left":       step.Join.Left,
			"right":      step.Join.Right,
			"key":        step.Join.Key,
			"foreignKey": step.Join.ForeignKey,
			"leftOuter":  step.Join.LeftOuter,
			"rightOuter": step.Join.RightOuter,
		}
	}
	if step.Token != "" {
		args["token"] = step.Token
	}
	if step.As != "" {
		args["as"] = step.As
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// plain converts operation results into JSON-friendly values.
func plain(out any) any {
	switch v := out.(type) {
	case nil:
		return nil
	case driver.Record:
		if v == nil {
			return nil
		}
		return copyRecord(v)
	case []driver.Record:
		list := make([]any, len(v))
		for i, r := range v {
			list[i] = copyRecord(r)
		}
		return list
	case schema.Schema:
		if v == nil {
			return nil
		}
		m := make(map[string]any, len(v))
		for name, attr := range v {
			m[name] = attr.String()
		}
		return m
	case *schema.Report:
		if v == nil {
			return nil
		}
		return map[string]any{
			"mode":    string(v.Mode),
			"created": v.Created,
			"applied": changeNames(v.Applied),
			"failed":  changeNames(v.Failed),
			"matches": v.Matches,
		}
	case *driver.Status:
		if v == nil {
			return nil
		}
		return map[string]any{"records": v.Records}
	case *lock.Token:
		if v == nil {
			return nil
		}
		m := map[string]any{"id": v.ID, "mode": string(v.Mode), "key": v.Key}
		if v.Mode == lock.ModeOptimistic {
			m["snapshot"] = plain(adapter.Snapshot(v))
		}
		return m
	default:
		return v
	}
}

// copyRecord detaches a traced record from later edits of a snapshot.
func copyRecord(r driver.Record) map[string]any {
	m := make(map[string]any, len(r))
	for k, v := range r {
		m[k] = v
	}
	return m
}

func changeNames(cs []schema.Change) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = string(c.Op) + " " + c.Name
	}
	return out
}
