package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Mode selects the synchronization strategy.
type Mode string

const (
	// ModeDrop drops the collection and defines it again. Destructive.
	ModeDrop Mode = "drop"
	// ModeAlter reconciles the stored schema in place.
	ModeAlter Mode = "alter"
)

// ModeFor maps the persistence flag to a mode: persistent stores are
// altered, everything else is dropped and recreated.
func ModeFor(persistent bool) Mode {
	if persistent {
		return ModeAlter
	}
	return ModeDrop
}

// Backend is the subset of a store the synchronizer needs. Describe returns
// a nil schema and nil error when the collection does not exist.
type Backend interface {
	Describe(ctx context.Context, collection string) (Schema, error)
	Define(ctx context.Context, collection string, s Schema) error
	Alter(ctx context.Context, collection string, change Change) error
	Drop(ctx context.Context, collection string) error
}

// Report describes the outcome of one Sync call.
type Report struct {
	Collection string
	Mode       Mode
	Created    bool
	Applied    []Change
	Failed     []Change
	Mismatches []Mismatch
	// Matches is true when the store's final schema has exactly the
	// declared fields with comparable descriptors.
	Matches bool
}

// Synchronizer reconciles declared collections against a Backend.
type Synchronizer struct {
	backend Backend
	policy  Policy
	logger  *slog.Logger
	limit   int
}

// NewSynchronizer creates a synchronizer. A nil logger discards output.
func NewSynchronizer(b Backend, p Policy, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{backend: b, policy: p, logger: logger, limit: 4}
}

// Define prepares c and creates it in the store.
//
// Fails with *CollectionAlreadyExistsError if the store already describes the
// collection; a describe error is returned unchanged and nothing is created.
func (s *Synchronizer) Define(ctx context.Context, c Collection) (Schema, error) {
	declared, err := Prepare(c, s.policy)
	if err != nil {
		return nil, err
	}
	if err := s.define(ctx, c.Identity, declared); err != nil {
		return nil, err
	}
	return declared, nil
}

func (s *Synchronizer) define(ctx context.Context, name string, declared Schema) error {
	existing, err := s.backend.Describe(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return &CollectionAlreadyExistsError{Collection: name, Existing: existing}
	}
	s.logger.Debug("defining collection", "collection", name, "fields", len(declared))
	return s.backend.Define(ctx, name, declared)
}

// Sync reconciles c using mode.
//
// In ModeAlter, per-attribute failures do not stop the batch: each is
// recorded in Report.Failed and returned as an *AttributeError inside a
// *multierror.Error alongside the (non-nil) report.
func (s *Synchronizer) Sync(ctx context.Context, mode Mode, c Collection) (*Report, error) {
	declared, err := Prepare(c, s.policy)
	if err != nil {
		return nil, err
	}

	report := &Report{Collection: c.Identity, Mode: mode}
	var result *multierror.Error

	switch mode {
	case ModeDrop:
		s.logger.Debug("dropping collection", "collection", c.Identity)
		if err := s.backend.Drop(ctx, c.Identity); err != nil {
			return nil, err
		}
		if err := s.define(ctx, c.Identity, declared); err != nil {
			return nil, err
		}
		report.Created = true

	case ModeAlter:
		actual, err := s.backend.Describe(ctx, c.Identity)
		if err != nil {
			return nil, err
		}
		if actual == nil {
			s.logger.Debug("defining collection", "collection", c.Identity, "fields", len(declared))
			if err := s.backend.Define(ctx, c.Identity, declared); err != nil {
				return nil, err
			}
			report.Created = true
			break
		}

		plan := Diff(declared, actual)
		report.Mismatches = plan.Mismatches
		for _, m := range plan.Mismatches {
			s.logger.Warn("field differs from declaration, leaving as is",
				"collection", c.Identity, "field", m.Name,
				"declared", m.Declared.String(), "actual", m.Actual.String())
		}
		for _, ch := range plan.Changes {
			if err := s.backend.Alter(ctx, c.Identity, ch); err != nil {
				report.Failed = append(report.Failed, ch)
				result = multierror.Append(result, &AttributeError{
					Collection: c.Identity,
					Attribute:  ch.Name,
					Op:         ch.Op,
					Err:        err,
				})
				continue
			}
			s.logger.Debug("altered collection", "collection", c.Identity, "op", string(ch.Op), "field", ch.Name)
			report.Applied = append(report.Applied, ch)
		}

	default:
		return nil, fmt.Errorf("sync %s: unknown mode %q", c.Identity, mode)
	}

	final, err := s.backend.Describe(ctx, c.Identity)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("describe after sync: %w", err))
	} else {
		report.Matches = Matches(declared, final)
	}
	return report, result.ErrorOrNil()
}

// SyncAll synchronizes collections concurrently. Reports are returned in
// input order; a collection that failed before producing a report has a nil
// entry. All failures are combined into one error.
func (s *Synchronizer) SyncAll(ctx context.Context, mode Mode, cs []Collection) ([]*Report, error) {
	reports := make([]*Report, len(cs))
	errs := make([]error, len(cs))

	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, c := range cs {
		g.Go(func() error {
			reports[i], errs[i] = s.Sync(ctx, mode, c)
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	for i, err := range errs {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", cs[i].Identity, err))
		}
	}
	return reports, result.ErrorOrNil()
}
