package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/config"
)

// lifecycleDriver counts Initialize and Teardown calls.
type lifecycleDriver struct {
	inits     atomic.Int32
	teardowns atomic.Int32
	gate      chan struct{}
	initErr   atomic.Pointer[error]
	downErr   error
}

func (d *lifecycleDriver) Name() string { return "lifecycle" }

func (d *lifecycleDriver) Initialize(context.Context) error {
	d.inits.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	if p := d.initErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *lifecycleDriver) Teardown(context.Context) error {
	d.teardowns.Add(1)
	return d.downErr
}

func TestAdapter_InitializeRunsOnce(t *testing.T) {
	ctx := context.Background()
	d := &lifecycleDriver{gate: make(chan struct{})}
	a := newTestAdapter(t, d, config.Default())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = a.Initialize(ctx)
		}()
	}
	require.Eventually(t, func() bool { return d.inits.Load() == 1 }, time.Second, time.Millisecond)
	close(d.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	require.NoError(t, a.Initialize(ctx))
	assert.EqualValues(t, 1, d.inits.Load())
}

func TestAdapter_InitializeRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	d := &lifecycleDriver{}
	d.initErr.Store(&errBoom)
	a := newTestAdapter(t, d, config.Default())

	err := a.Initialize(ctx)
	assert.Equal(t, errBoom, err)

	d.initErr.Store(nil)
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Initialize(ctx))
	assert.EqualValues(t, 2, d.inits.Load())
}

func TestAdapter_TeardownRunsOnce(t *testing.T) {
	ctx := context.Background()
	d := &lifecycleDriver{downErr: errBoom}
	a := newTestAdapter(t, d, config.Default())
	require.NoError(t, a.Initialize(ctx))

	select {
	case <-a.Done():
		t.Fatal("done before teardown")
	default:
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = a.Teardown(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.Equal(t, errBoom, err)
	}
	assert.EqualValues(t, 1, d.teardowns.Load())

	select {
	case <-a.Done():
	default:
		t.Fatal("done not closed after teardown")
	}
}

func TestAdapter_TeardownWithoutInitialize(t *testing.T) {
	d := &lifecycleDriver{}
	a := newTestAdapter(t, d, config.Default())

	require.NoError(t, a.Teardown(context.Background()))
	assert.EqualValues(t, 1, d.teardowns.Load())
	assert.Zero(t, d.inits.Load())
}
