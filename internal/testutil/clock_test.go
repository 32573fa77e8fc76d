package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_NextAndReset(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ConcurrentCallersGetDistinctValues(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, calls = 50, 40

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*calls)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				v := clock.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls), clock.Current())
}

func TestManualTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManualTime(start)

	assert.Equal(t, start, m.Now())
	m.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), m.Now())
}

func TestSequentialTokenGenerator(t *testing.T) {
	gen := NewSequentialTokenGenerator("lock")
	assert.Equal(t, "lock-1", gen.Generate())
	assert.Equal(t, "lock-2", gen.Generate())

	assert.Equal(t, "tok-1", NewSequentialTokenGenerator("").Generate())
}
