package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowCounter_FixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	counter := NewWindowCounter(rdb, "otp_send")
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, ttl, err := counter.Hit(ctx, "user-1:login", 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.True(t, ttl > 0 && ttl <= 5*time.Minute)
	}

	// Later hits do not extend the window.
	mr.FastForward(4 * time.Minute)
	n, ttl, err := counter.Hit(ctx, "user-1:login", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(2 * time.Minute)
	count, err := counter.Count(ctx, "user-1:login")
	require.NoError(t, err)
	assert.Zero(t, count)

	n, _, err = counter.Hit(ctx, "user-1:login", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWindowCounter_SubjectsAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)
	counter := NewWindowCounter(rdb, "ip_failures")
	ctx := context.Background()

	_, _, err := counter.Hit(ctx, "10.0.0.1", time.Hour)
	require.NoError(t, err)

	count, err := counter.Count(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, counter.Reset(ctx, "10.0.0.1"))
	count, err = counter.Count(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWindowCounter_Unavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	counter := NewWindowCounter(rdb, "x")
	mr.Close()

	_, _, err := counter.Hit(context.Background(), "s", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}
