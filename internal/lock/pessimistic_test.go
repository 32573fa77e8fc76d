package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/criteria"
	"github.com/roach88/strata/internal/testutil"
)

func newTestPessimistic(maxHold time.Duration) *Pessimistic {
	return NewPessimistic(Config{
		MaxHold: maxHold,
		Clock:   testutil.NewDeterministicClock(),
		Tokens:  testutil.NewSequentialTokenGenerator(""),
	})
}

func byID(id int64) *criteria.Criteria {
	return &criteria.Criteria{Where: map[string]any{"id": id}}
}

type lockResult struct {
	tok *Token
	err error
}

// lockAsync starts a Lock call and waits until it is queued.
func lockAsync(t *testing.T, ctx context.Context, p *Pessimistic, collection string, c *criteria.Criteria) <-chan lockResult {
	t.Helper()
	before := p.Waiting()
	out := make(chan lockResult, 1)
	go func() {
		tok, err := p.Lock(ctx, collection, c)
		out <- lockResult{tok, err}
	}()
	require.Eventually(t, func() bool { return p.Waiting() == before+1 }, time.Second, time.Millisecond)
	return out
}

func receive(t *testing.T, ch <-chan lockResult) lockResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lock")
		return lockResult{}
	}
}

func TestPessimistic_GrantsWhenFree(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()

	tok, err := p.Lock(context.Background(), "users", byID(1))
	require.NoError(t, err)

	assert.Equal(t, "tok-1", tok.ID)
	assert.Equal(t, int64(1), tok.Seq)
	assert.Equal(t, ModePessimistic, tok.Mode)
	assert.Equal(t, `users|{"where":{"id":1}}`, tok.Key)
	assert.Equal(t, 1, p.Held())
}

func TestPessimistic_SameKeyIsSerialized(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()
	ctx := context.Background()

	first, err := p.Lock(ctx, "users", byID(1))
	require.NoError(t, err)

	second := lockAsync(t, ctx, p, "users", byID(1))
	select {
	case <-second:
		t.Fatal("second lock granted while first is held")
	case <-time.After(20 * time.Millisecond):
	}

	released, err := p.Unlock(first)
	require.NoError(t, err)

	r := receive(t, second)
	require.NoError(t, r.err)
	assert.Greater(t, r.tok.Seq, released, "second grant happens after the first release")
	assert.Equal(t, 1, p.Held())
}

func TestPessimistic_FIFOOrder(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()
	ctx := context.Background()

	held, err := p.Lock(ctx, "users", byID(1))
	require.NoError(t, err)

	waiters := make([]<-chan lockResult, 3)
	for i := range waiters {
		waiters[i] = lockAsync(t, ctx, p, "users", byID(1))
	}

	current := held
	for i := range waiters {
		_, err := p.Unlock(current)
		require.NoError(t, err)

		r := receive(t, waiters[i])
		require.NoError(t, r.err)
		current = r.tok

		// Exactly one waiter is granted per release.
		for _, later := range waiters[i+1:] {
			select {
			case <-later:
				t.Fatalf("waiter granted out of order after release %d", i)
			default:
			}
		}
	}
	assert.Equal(t, 0, p.Waiting())
}

func TestPessimistic_DisjointKeysDoNotBlock(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()
	ctx := context.Background()

	_, err := p.Lock(ctx, "users", byID(1))
	require.NoError(t, err)
	_, err = p.Lock(ctx, "users", byID(2))
	require.NoError(t, err)
	_, err = p.Lock(ctx, "posts", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, p.Held())
	assert.Equal(t, 0, p.Waiting())
}

func TestPessimistic_WholeCollectionOverlapsRecords(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()
	ctx := context.Background()

	whole, err := p.Lock(ctx, "users", nil)
	require.NoError(t, err)

	record := lockAsync(t, ctx, p, "users", byID(7))
	_, err = p.Unlock(whole)
	require.NoError(t, err)

	r := receive(t, record)
	require.NoError(t, r.err)
}

func TestPessimistic_CancelRemovesWaiter(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()

	held, err := p.Lock(context.Background(), "users", byID(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := lockAsync(t, ctx, p, "users", byID(1))
	next := lockAsync(t, context.Background(), p, "users", byID(1))

	cancel()
	r := receive(t, cancelled)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Nil(t, r.tok)
	assert.Equal(t, 1, p.Waiting())

	// The release notification goes to the remaining waiter.
	_, err = p.Unlock(held)
	require.NoError(t, err)
	r = receive(t, next)
	require.NoError(t, r.err)
	assert.NotNil(t, r.tok)
}

func TestPessimistic_CancelUnblocksLaterWaiters(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()

	_, err := p.Lock(context.Background(), "users", byID(2))
	require.NoError(t, err)

	// A whole-collection waiter blocks everything behind it.
	ctx, cancel := context.WithCancel(context.Background())
	whole := lockAsync(t, ctx, p, "users", nil)
	record := lockAsync(t, context.Background(), p, "users", byID(1))

	cancel()
	receive(t, whole)

	r := receive(t, record)
	require.NoError(t, r.err)
	assert.Equal(t, `users|{"where":{"id":1}}`, r.tok.Key)
}

func TestPessimistic_StaleLockReclaimed(t *testing.T) {
	p := newTestPessimistic(300 * time.Millisecond)
	defer p.Close()
	ctx := context.Background()

	stale, err := p.Lock(ctx, "users", byID(1))
	require.NoError(t, err)

	r := receive(t, lockAsync(t, ctx, p, "users", byID(1)))
	require.NotNil(t, r.tok, "waiter proceeds after the reclaim")
	assert.True(t, IsStale(r.err))

	var se *StaleLockReleasedError
	require.True(t, errors.As(r.err, &se))
	assert.Equal(t, stale.ID, se.TokenID)

	_, err = p.Unlock(stale)
	assert.True(t, IsInvalidToken(err), "expired token cannot unlock")

	require.Len(t, p.Stale(), 1)
	_, err = p.Unlock(r.tok)
	require.NoError(t, err)
}

func TestPessimistic_ReclaimHistoryIsBounded(t *testing.T) {
	p := newTestPessimistic(20 * time.Millisecond)
	p.maxReclaimed = 2
	defer p.Close()
	ctx := context.Background()

	var toks []*Token
	for id := int64(1); id <= 3; id++ {
		tok, err := p.Lock(ctx, "users", byID(id))
		require.NoError(t, err)
		toks = append(toks, tok)
	}
	require.Eventually(t, func() bool { return p.Held() == 0 }, time.Second, 5*time.Millisecond)

	require.Len(t, p.Stale(), 2)
	p.mu.Lock()
	assert.Len(t, p.expired, 2)
	assert.Len(t, p.reaped, 2)
	p.mu.Unlock()

	reasons := make(map[string]int)
	for _, tok := range toks {
		var ite *InvalidTokenError
		_, err := p.Unlock(tok)
		require.ErrorAs(t, err, &ite)
		reasons[ite.Reason]++
	}
	assert.Equal(t, map[string]int{"lock expired and was reclaimed": 2, "not held": 1}, reasons)
}

func TestPessimistic_RenewExtendsHold(t *testing.T) {
	p := newTestPessimistic(200 * time.Millisecond)
	defer p.Close()

	tok, err := p.Lock(context.Background(), "users", nil)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, err = p.Renew(tok)
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, 1, p.Held())
	assert.Empty(t, p.Stale())
	_, err = p.Unlock(tok)
	require.NoError(t, err)
}

func TestPessimistic_InvalidTokens(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()

	tok, err := p.Lock(context.Background(), "users", nil)
	require.NoError(t, err)
	_, err = p.Unlock(tok)
	require.NoError(t, err)

	_, err = p.Unlock(tok)
	assert.True(t, IsInvalidToken(err), "double unlock")
	_, err = p.Renew(tok)
	assert.True(t, IsInvalidToken(err))
	_, err = p.Unlock(nil)
	assert.True(t, IsInvalidToken(err))

	forged := *tok
	forged.ID = "tok-99"
	_, err = p.Unlock(&forged)
	assert.True(t, IsInvalidToken(err))
}

func TestPessimistic_CheckDoesNotRelease(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()

	tok, err := p.Lock(context.Background(), "users", byID(1))
	require.NoError(t, err)

	require.NoError(t, p.Check(tok))
	assert.Equal(t, 1, p.Held())

	_, err = p.Unlock(tok)
	require.NoError(t, err)
	assert.True(t, IsInvalidToken(p.Check(tok)))
	assert.True(t, IsInvalidToken(p.Check(nil)))
}

func TestPessimistic_CloseFailsWaiters(t *testing.T) {
	p := newTestPessimistic(time.Minute)

	_, err := p.Lock(context.Background(), "users", nil)
	require.NoError(t, err)
	waiting := lockAsync(t, context.Background(), p, "users", nil)

	p.Close()
	r := receive(t, waiting)
	assert.ErrorIs(t, r.err, ErrClosed)

	_, err = p.Lock(context.Background(), "users", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPessimistic_InvalidCriteria(t *testing.T) {
	p := newTestPessimistic(time.Minute)
	defer p.Close()

	_, err := p.Lock(context.Background(), "users", &criteria.Criteria{Where: map[string]any{"ch": make(chan int)}})
	require.Error(t, err)
	assert.Equal(t, 0, p.Held())
}
