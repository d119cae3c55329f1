package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnforcer(t *testing.T, limits Limits) (*Enforcer, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(store.Stop)
	return NewEnforcer(store, limits), store
}

func TestCheckAndReserveAllows(t *testing.T) {
	e, _ := newTestEnforcer(t, Limits{PerMinute: 5, UserDaily: 5, GlobalDaily: 5})

	for i := 0; i < 5; i++ {
		require.NoError(t, e.CheckAndReserve(context.Background(), "user-1"))
	}

	err := e.CheckAndReserve(context.Background(), "user-1")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ScopePerMinute, exceeded.Scope, "first exhausted tier in checking order wins")
}

func TestDenialReportsExhaustedScope(t *testing.T) {
	e, _ := newTestEnforcer(t, Limits{PerMinute: 100, UserDaily: 2, GlobalDaily: 100})

	require.NoError(t, e.CheckAndReserve(context.Background(), "user-1"))
	require.NoError(t, e.CheckAndReserve(context.Background(), "user-1"))

	err := e.CheckAndReserve(context.Background(), "user-1")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ScopeUserDaily, exceeded.Scope)

	// Another user still has their own daily budget.
	assert.NoError(t, e.CheckAndReserve(context.Background(), "user-2"))
}

func TestGlobalDailyScope(t *testing.T) {
	e, _ := newTestEnforcer(t, Limits{PerMinute: 100, UserDaily: 100, GlobalDaily: 3})

	require.NoError(t, e.CheckAndReserve(context.Background(), "a"))
	require.NoError(t, e.CheckAndReserve(context.Background(), "b"))
	require.NoError(t, e.CheckAndReserve(context.Background(), "c"))

	err := e.CheckAndReserve(context.Background(), "d")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ScopeGlobalDaily, exceeded.Scope)
}

func TestDenialDoesNotConsumeOtherTiers(t *testing.T) {
	e, _ := newTestEnforcer(t, Limits{PerMinute: 1, UserDaily: 10, GlobalDaily: 10})

	require.NoError(t, e.CheckAndReserve(context.Background(), "user-1"))

	// Per-minute is now exhausted; the denial must not burn daily budget.
	for i := 0; i < 3; i++ {
		err := e.CheckAndReserve(context.Background(), "user-1")
		var exceeded *ExceededError
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, ScopePerMinute, exceeded.Scope)
	}
}

func TestNoOverAdmissionUnderConcurrency(t *testing.T) {
	const capacity = 20
	e, _ := newTestEnforcer(t, Limits{PerMinute: capacity, UserDaily: 1000, GlobalDaily: 1000})

	var wg sync.WaitGroup
	results := make(chan error, capacity+10)

	for i := 0; i < capacity+10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.CheckAndReserve(context.Background(), "user-1")
		}()
	}
	wg.Wait()
	close(results)

	allowed, denied := 0, 0
	for err := range results {
		if err == nil {
			allowed++
			continue
		}
		var exceeded *ExceededError
		require.ErrorAs(t, err, &exceeded)
		denied++
	}

	assert.Equal(t, capacity, allowed, "exactly the remaining capacity may be admitted")
	assert.Equal(t, 10, denied)
}

func TestWindowResetsByKeyRotation(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(store.Stop)

	e := NewEnforcer(store, Limits{PerMinute: 1, UserDaily: 100, GlobalDaily: 100})

	base := time.Date(2026, 3, 14, 10, 30, 59, 0, time.UTC)
	e.now = func() time.Time { return base }

	require.NoError(t, e.CheckAndReserve(context.Background(), "user-1"))
	require.Error(t, e.CheckAndReserve(context.Background(), "user-1"))

	// Crossing the minute boundary yields a fresh counter key.
	e.now = func() time.Time { return base.Add(time.Second) }
	assert.NoError(t, e.CheckAndReserve(context.Background(), "user-1"))
}

func TestMemoryStoreExpiresCounters(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(store.Stop)

	base := time.Now()
	store.now = func() time.Time { return base }

	reservations := []Reservation{{Key: "k", Limit: 1, Window: time.Minute}}

	denied, err := store.ReserveAll(context.Background(), reservations)
	require.NoError(t, err)
	assert.Equal(t, -1, denied)

	denied, err = store.ReserveAll(context.Background(), reservations)
	require.NoError(t, err)
	assert.Equal(t, 0, denied)

	// Past the window the stale counter no longer counts.
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	denied, err = store.ReserveAll(context.Background(), reservations)
	require.NoError(t, err)
	assert.Equal(t, -1, denied)
}

func TestExceededErrorMessage(t *testing.T) {
	err := error(&ExceededError{Scope: ScopePerMinute})
	assert.Equal(t, "quota exceeded: per_minute", err.Error())

	var exceeded *ExceededError
	assert.True(t, errors.As(err, &exceeded))
}
