package lock

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/strata/internal/criteria"
)

// Mode selects the coordination strategy for a collection.
type Mode string

const (
	// ModePessimistic serializes overlapping mutations through a FIFO queue.
	ModePessimistic Mode = "pessimistic"
	// ModeOptimistic hands out snapshots and rejects stale commits.
	ModeOptimistic Mode = "optimistic"
)

// ParseMode validates a mode name. The empty string means pessimistic.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModePessimistic:
		return ModePessimistic, nil
	case ModeOptimistic:
		return ModeOptimistic, nil
	}
	return "", fmt.Errorf("unknown lock mode %q", s)
}

// Token proves ownership of a lock (pessimistic) or identifies a snapshot
// (optimistic). Tokens are immutable once issued.
type Token struct {
	ID         string
	Collection string
	Criteria   *criteria.Criteria
	Key        string
	Mode       Mode
	// Seq is the logical time of the grant or snapshot.
	Seq        int64
	AcquiredAt time.Time
	// Deadline is when a pessimistic lock is reclaimed. Zero for snapshots.
	Deadline time.Time
	// Data is the deep-copied snapshot of an optimistic token.
	Data any
}

func (t *Token) String() string {
	return fmt.Sprintf("%s lock %s on %s (seq=%d)", t.Mode, t.ID, t.Key, t.Seq)
}

// Covers reports whether the token was issued for collection and its
// criteria include every record c could select.
func (t *Token) Covers(collection string, c *criteria.Criteria) bool {
	if t == nil || t.Collection != collection {
		return false
	}
	return criteria.Subsumes(t.Criteria, c)
}

// TokenGenerator produces token IDs.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDs (RFC 9562).
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
