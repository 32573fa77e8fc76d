package adapter

import (
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/roach88/strata/internal/lock"
)

// defaultSignals trigger Teardown once Initialize has installed hooks.
var defaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger. The lock coordinator and schema
// synchronizer log through it too.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSignals replaces the signals that trigger Teardown.
func WithSignals(sigs ...os.Signal) Option {
	return func(a *Adapter) {
		a.signals = sigs
	}
}

// WithoutSignalHooks stops Initialize from installing signal hooks. Used
// by tests and by embedders that own process shutdown themselves.
func WithoutSignalHooks() Option {
	return func(a *Adapter) {
		a.signals = nil
	}
}

// WithTokenGenerator sets the lock token ID source.
func WithTokenGenerator(g lock.TokenGenerator) Option {
	return func(a *Adapter) {
		a.tokens = g
	}
}

// WithNow sets the clock used for timestamps and lock deadlines.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithSequencer sets the logical clock shared by both lock strategies.
func WithSequencer(s lock.Sequencer) Option {
	return func(a *Adapter) {
		a.clock = s
	}
}
