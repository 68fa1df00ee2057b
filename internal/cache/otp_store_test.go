package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchHash(want string) func(string) bool {
	return func(got string) bool { return got == want }
}

func TestOTPStore_VerifyConsumesCode(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, 10*time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "user-1", "login", "hash-1"))

	ok, err := store.Verify(ctx, "user-1", "login", matchHash("hash-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Verify(ctx, "user-1", "login", matchHash("hash-1"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOTPStore_PurposesAreScoped(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, 10*time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "user-1", "login", "hash-1"))

	_, err := store.Verify(ctx, "user-1", "disable_mfa", matchHash("hash-1"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOTPStore_BurnsAfterMaxAttempts(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, 10*time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "user-1", "login", "hash-1"))

	for i := 0; i < 5; i++ {
		ok, err := store.Verify(ctx, "user-1", "login", matchHash("wrong"))
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// The fifth miss deleted the code, so even the right one is gone.
	_, err := store.Verify(ctx, "user-1", "login", matchHash("hash-1"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOTPStore_Expires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, 10*time.Minute, 5)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "user-1", "login", "hash-1"))
	mr.FastForward(10*time.Minute + time.Second)

	_, err := store.Verify(ctx, "user-1", "login", matchHash("hash-1"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOTPStore_ConcurrentVerifySingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOTPStore(rdb, 10*time.Minute, 50)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "user-1", "login", "hash-1"))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.Verify(ctx, "user-1", "login", matchHash("hash-1")); err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
