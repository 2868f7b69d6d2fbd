package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:booking", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:booking", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:booking", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := New(mr.Addr())

	ctx := context.Background()
	_, ok, err := rc.Get(ctx, "job:1001:current")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, rc.Set(ctx, "job:1001:current", []byte(`{"state":"BOOKED"}`), time.Minute))

	b, ok, err := rc.Get(ctx, "job:1001:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"state":"BOOKED"}`, string(b))

	mr.FastForward(2 * time.Minute)
	_, ok, err = rc.Get(ctx, "job:1001:current")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	_, _, err := rl.Allow(ctx, "rl:booking", 1, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	ok, n, err := rl.Allow(ctx, "rl:booking", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
