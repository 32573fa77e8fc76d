package harness

import (
	"context"
	"errors"

	"github.com/roach88/strata/internal/adapter"
	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/schema"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	Op         string `json:"op"`
	Collection string `json:"collection,omitempty"`
	Args       any    `json:"args,omitempty"`
	Result     any    `json:"result,omitempty"`
	// Error is the error kind, empty on success.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Error kinds reported in traces and matched by expectations.
const (
	KindInvalidCriteria  = "invalidCriteria"
	KindCollectionExists = "collectionExists"
	KindUnsupported      = "unsupported"
	KindStaleState       = "staleState"
	KindStaleLock        = "staleLock"
	KindInvalidToken     = "invalidToken"
	KindModeConflict     = "modeConflict"
	KindClosed           = "closed"
	KindTimeout          = "timeout"
	KindOther            = "error"
	kindAny              = "any"
)

// ErrorKind classifies err by the typed errors of the adapter stack.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case criteria.IsInvalidCriteria(err):
		return KindInvalidCriteria
	case schema.IsCollectionAlreadyExists(err):
		return KindCollectionExists
	case adapter.IsUnsupported(err):
		return KindUnsupported
	case lock.IsStaleState(err):
		return KindStaleState
	case lock.IsStale(err):
		return KindStaleLock
	case lock.IsInvalidToken(err):
		return KindInvalidToken
	case lock.IsModeConflict(err):
		return KindModeConflict
	case errors.Is(err, lock.ErrClosed):
		return KindClosed
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindOther
	}
}

func knownErrorKind(kind string) bool {
	switch kind {
	case KindInvalidCriteria, KindCollectionExists, KindUnsupported, KindStaleState,
		KindStaleLock, KindInvalidToken, KindModeConflict, KindClosed, KindTimeout, KindOther, kindAny:
		return true
	}
	return false
}
