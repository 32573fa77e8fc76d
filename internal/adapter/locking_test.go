package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/driver/memory"
	"github.com/roach88/strata/internal/lock"
)

func optimisticConfig() config.Config {
	cfg := config.Default()
	cfg.Lock.Mode = string(lock.ModeOptimistic)
	return cfg
}

func TestAdapter_MutationWaitsForHeldLock(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), config.Default())
	defineUsers(t, a)
	_, err := a.Create(ctx, "users", driver.Record{"name": "ada"})
	require.NoError(t, err)

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := a.Update(ctx, "users", 1, driver.Record{"name": "bob"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return a.Locks().Pessimistic().Waiting() == 1
	}, time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("update ran while the record was locked: %v", err)
	default:
	}

	// The holder mutates inside its own lock.
	_, err = a.Update(WithToken(ctx, tok), "users", 1, driver.Record{"name": "cy"})
	require.NoError(t, err)

	require.NoError(t, a.Unlock(ctx, tok))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("update still waiting after unlock")
	}

	got, err := a.FindOne(ctx, "users", 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", got["name"])
}

func TestAdapter_DisjointMutationsDoNotWait(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), config.Default())
	defineUsers(t, a)
	_, err := a.CreateEach(ctx, "users", []driver.Record{{"name": "ada"}, {"name": "bob"}})
	require.NoError(t, err)

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Unlock(ctx, tok)) }()

	updated, err := a.Update(ctx, "users", 2, driver.Record{"age": 7})
	require.NoError(t, err)
	assert.Len(t, updated, 1)
}

func TestAdapter_HeldTokenMustCoverMutation(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), config.Default())
	defineUsers(t, a)

	tok, err := a.Lock(ctx, "users", map[string]any{"name": "ada"})
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Unlock(ctx, tok)) }()

	// The whole collection overlaps the held lock but is not covered by it.
	_, err = a.Update(WithToken(ctx, tok), "users", nil, driver.Record{"age": 1})
	require.Error(t, err)
	assert.True(t, lock.IsInvalidToken(err))
}

func TestAdapter_DriverLockFollowsCoordinator(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	a := newTestAdapter(t, m, config.Default())
	defineUsers(t, a)

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Locked(tok.Key))

	require.NoError(t, a.Unlock(ctx, tok))
	assert.Zero(t, m.Locked(tok.Key))
	assert.Zero(t, a.Locks().Pessimistic().Held())

	err = a.Unlock(ctx, tok)
	require.Error(t, err)
	assert.True(t, lock.IsInvalidToken(err))
}

func TestAdapter_AutoLockReleasesDriverLock(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	a := newTestAdapter(t, m, config.Default())
	defineUsers(t, a)

	_, err := a.Create(ctx, "users", driver.Record{"name": "ada"})
	require.NoError(t, err)
	_, err = a.Update(ctx, "users", 1, driver.Record{"name": "bob"})
	require.NoError(t, err)

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Locked(tok.Key), "only the explicit lock is held")
	require.NoError(t, a.Unlock(ctx, tok))
}

func TestAdapter_RenewExtendsDeadline(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), config.Default())
	defineUsers(t, a)

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	deadline, err := a.Renew(tok)
	require.NoError(t, err)
	assert.False(t, deadline.Before(tok.Deadline))
	require.NoError(t, a.Unlock(ctx, tok))
}

func TestAdapter_OptimisticCommitWritesChanges(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), optimisticConfig())
	defineUsers(t, a)
	_, err := a.CreateEach(ctx, "users", []driver.Record{{"name": "ada", "age": 30}, {"name": "bob", "age": 40}})
	require.NoError(t, err)

	tok, err := a.Lock(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, lock.ModeOptimistic, tok.Mode)

	snap := Snapshot(tok)
	require.Len(t, snap, 2)
	snap[0]["name"] = "ada lovelace"

	// The snapshot is a copy; the store is untouched until commit.
	stored, err := a.FindOne(ctx, "users", 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", stored["name"])

	require.NoError(t, a.Unlock(ctx, tok))

	stored, err = a.FindOne(ctx, "users", 1)
	require.NoError(t, err)
	assert.Equal(t, "ada lovelace", stored["name"])
	assert.EqualValues(t, 30, stored["age"])

	other, err := a.FindOne(ctx, "users", 2)
	require.NoError(t, err)
	assert.Equal(t, "bob", other["name"])
}

func TestAdapter_OptimisticConflicts(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), optimisticConfig())
	defineUsers(t, a)
	_, err := a.Create(ctx, "users", driver.Record{"name": "ada"})
	require.NoError(t, err)

	t.Run("first commit wins", func(t *testing.T) {
		first, err := a.Lock(ctx, "users", 1)
		require.NoError(t, err)
		second, err := a.Lock(ctx, "users", 1)
		require.NoError(t, err)

		Snapshot(first)[0]["name"] = "first"
		Snapshot(second)[0]["name"] = "second"

		require.NoError(t, a.Unlock(ctx, first))
		err = a.Unlock(ctx, second)
		require.Error(t, err)
		assert.True(t, lock.IsStaleState(err))

		got, err := a.FindOne(ctx, "users", 1)
		require.NoError(t, err)
		assert.Equal(t, "first", got["name"])
	})

	t.Run("direct write invalidates snapshot", func(t *testing.T) {
		tok, err := a.Lock(ctx, "users", 1)
		require.NoError(t, err)

		_, err = a.Update(ctx, "users", 1, driver.Record{"name": "direct"})
		require.NoError(t, err)

		Snapshot(tok)[0]["name"] = "late"
		err = a.Unlock(ctx, tok)
		assert.True(t, lock.IsStaleState(err))
	})

	t.Run("discard writes nothing", func(t *testing.T) {
		tok, err := a.Lock(ctx, "users", 1)
		require.NoError(t, err)
		Snapshot(tok)[0]["name"] = "discarded"
		require.NoError(t, a.Discard(tok))

		got, err := a.FindOne(ctx, "users", 1)
		require.NoError(t, err)
		assert.Equal(t, "direct", got["name"])
	})
}

func TestAdapter_OptimisticMutationsDoNotLock(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	a := newTestAdapter(t, m, optimisticConfig())
	defineUsers(t, a)

	_, err := a.Create(ctx, "users", driver.Record{"name": "ada"})
	require.NoError(t, err)
	assert.Zero(t, a.Locks().Pessimistic().Held())

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	assert.Zero(t, m.Locked(tok.Key))

	_, err = a.Renew(tok)
	assert.True(t, lock.IsModeConflict(err))
	require.NoError(t, a.Discard(tok))
}

func TestAdapter_PerCollectionLockMode(t *testing.T) {
	cfg := config.Default()
	cfg.Lock.Collections = map[string]string{"events": string(lock.ModeOptimistic)}
	a := newTestAdapter(t, memory.New(), cfg)

	assert.Equal(t, lock.ModePessimistic, a.LockMode("users"))
	assert.Equal(t, lock.ModeOptimistic, a.LockMode("events"))
}

func TestAdapter_TeardownFailsWaiters(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), config.Default())
	defineUsers(t, a)

	_, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := a.Lock(ctx, "users", 1)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return a.Locks().Pessimistic().Waiting() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Teardown(ctx))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, lock.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by teardown")
	}
}

func TestAdapter_ExpiredTokenCannotMutate(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Lock.MaxHold = 50 * time.Millisecond
	a := newTestAdapter(t, memory.New(), cfg)
	defineUsers(t, a)
	_, err := a.Create(ctx, "users", driver.Record{"name": "ada"})
	require.NoError(t, err)

	stale, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a.Locks().Pessimistic().Held() == 0
	}, time.Second, 5*time.Millisecond)

	// Another caller now holds the same records.
	fresh, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)

	_, err = a.Update(WithToken(ctx, stale), "users", 1, driver.Record{"name": "intruder"})
	require.Error(t, err)
	assert.True(t, lock.IsInvalidToken(err))

	_, err = a.Destroy(WithToken(ctx, stale), "users", 1)
	assert.True(t, lock.IsInvalidToken(err))

	forged := &lock.Token{
		ID:         "forged",
		Collection: "users",
		Criteria:   fresh.Criteria,
		Key:        fresh.Key,
		Mode:       lock.ModePessimistic,
	}
	_, err = a.FindAndUpdate(WithToken(ctx, forged), "users", 1, driver.Record{"name": "intruder"})
	assert.True(t, lock.IsInvalidToken(err))

	got, err := a.FindOne(ctx, "users", 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", got["name"])
}

func TestAdapter_LockRejectsOverlapWithHeldToken(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, memory.New(), config.Default())
	defineUsers(t, a)

	tok, err := a.Lock(ctx, "users", 1)
	require.NoError(t, err)
	held := WithToken(ctx, tok)

	_, err = a.Lock(held, "users", 1)
	require.Error(t, err)
	assert.True(t, lock.IsInvalidToken(err))

	_, err = a.Lock(held, "users", nil)
	assert.True(t, lock.IsInvalidToken(err), "whole collection overlaps the held record")
	assert.Zero(t, a.Locks().Pessimistic().Waiting())

	other, err := a.Lock(held, "users", 2)
	require.NoError(t, err, "disjoint records do not conflict")
	require.NoError(t, a.Unlock(ctx, other))

	require.NoError(t, a.Unlock(ctx, tok))

	// A released token no longer blocks the caller.
	again, err := a.Lock(held, "users", 1)
	require.NoError(t, err)
	require.NoError(t, a.Unlock(ctx, again))
}
