package lock

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned to waiters when the coordinator shuts down.
var ErrClosed = errors.New("lock coordinator closed")

// StaleLockReleasedError reports a lock reclaimed after exceeding its
// maximum hold time. It is logged, recorded, and returned alongside the
// token of the waiter that was granted because of the reclaim.
type StaleLockReleasedError struct {
	Collection string
	Key        string
	TokenID    string
	AcquiredAt time.Time
	MaxHold    time.Duration
}

// Error implements the error interface.
func (e *StaleLockReleasedError) Error() string {
	return fmt.Sprintf("stale lock %s on %s released after %s", e.TokenID, e.Key, e.MaxHold)
}

// IsStale returns true if err is a StaleLockReleasedError.
// Uses errors.As to handle wrapped errors.
func IsStale(err error) bool {
	var se *StaleLockReleasedError
	return errors.As(err, &se)
}

// InvalidTokenError is returned by Unlock, Renew, and Commit for a token that
// is unknown, already released, or was reclaimed.
type InvalidTokenError struct {
	TokenID string
	Reason  string
}

// Error implements the error interface.
func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid lock token %q: %s", e.TokenID, e.Reason)
}

// IsInvalidToken returns true if err is an InvalidTokenError.
func IsInvalidToken(err error) bool {
	var te *InvalidTokenError
	return errors.As(err, &te)
}

// StaleStateError is returned when committing an optimistic snapshot whose
// records were written after the snapshot was taken.
type StaleStateError struct {
	Collection string
	Key        string
	// SnapshotSeq is when the snapshot was taken; WriteSeq is the
	// conflicting write that happened after it.
	SnapshotSeq int64
	WriteSeq    int64
}

// Error implements the error interface.
func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state for %s: snapshot at %d, modified at %d", e.Key, e.SnapshotSeq, e.WriteSeq)
}

// IsStaleState returns true if err is a StaleStateError.
func IsStaleState(err error) bool {
	var se *StaleStateError
	return errors.As(err, &se)
}

// ModeConflictError is returned when a collection is used with the API of
// the mode it is not configured for.
type ModeConflictError struct {
	Collection string
	Configured Mode
	Requested  Mode
}

// Error implements the error interface.
func (e *ModeConflictError) Error() string {
	return fmt.Sprintf("collection %q uses %s locking, not %s", e.Collection, e.Configured, e.Requested)
}

// IsModeConflict returns true if err is a ModeConflictError.
func IsModeConflict(err error) bool {
	var me *ModeConflictError
	return errors.As(err, &me)
}
