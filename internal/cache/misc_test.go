package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBlacklist_RevokeUntilExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	bl := NewTokenBlacklist(rdb)
	ctx := context.Background()

	require.NoError(t, bl.Revoke(ctx, "jti-1", time.Now().Add(10*time.Minute)))

	revoked, err := bl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(11 * time.Minute)
	revoked, err = bl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestTokenBlacklist_AlreadyExpiredIsNoop(t *testing.T) {
	mr, rdb := newTestRedis(t)
	bl := NewTokenBlacklist(rdb)

	require.NoError(t, bl.Revoke(context.Background(), "jti-1", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists(key("jti_blacklist", "jti-1")))
}

func TestReplayGuard_ClaimOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	guard := NewReplayGuard(rdb, "totp")
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "user-1:123456", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, "user-1:123456", 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(91 * time.Second)
	ok, err = guard.Claim(ctx, "user-1:123456", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_Exclusive(t *testing.T) {
	_, rdb := newTestRedis(t)
	locker := NewLocker(rdb)
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	second, err := locker.TryAcquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, lease.Release(ctx))

	third, err := locker.TryAcquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestLease_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewLocker(rdb)
	ctx := context.Background()

	stale, err := locker.TryAcquire(ctx, "cleanup", time.Second)
	require.NoError(t, err)
	require.NotNil(t, stale)

	mr.FastForward(2 * time.Second)
	fresh, err := locker.TryAcquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, fresh)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists(key("lock", "cleanup")))
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	docs := NewDocumentStore(rdb)
	ctx := context.Background()

	_, err := docs.Get(ctx, "jwks")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, docs.Set(ctx, "jwks", []byte(`{"keys":[]}`), time.Hour))
	body, err := docs.Get(ctx, "jwks")
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(body))

	mr.FastForward(time.Hour + time.Second)
	_, err = docs.Get(ctx, "jwks")
	assert.ErrorIs(t, err, ErrMiss)
}
