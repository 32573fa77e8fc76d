//go:build unix

package adapter

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/config"
)

func TestAdapter_SignalTriggersTeardown(t *testing.T) {
	d := &lifecycleDriver{}
	a := newTestAdapter(t, d, config.Default(), WithSignals(syscall.SIGUSR1))
	require.NoError(t, a.Initialize(context.Background()))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not tear the adapter down")
	}
	assert.EqualValues(t, 1, d.teardowns.Load())

	// Later calls share the signal's teardown.
	require.NoError(t, a.Teardown(context.Background()))
	assert.EqualValues(t, 1, d.teardowns.Load())
}
