//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procflow/internal/ratelimit"
	"procflow/pkg/testutil/containers"
)

func TestRedisStore_Allow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(ctx))
	store := ratelimit.NewRedisStore(rc.Client)

	for i := range 2 {
		res, err := store.Allow(ctx, "user:E1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "user:E1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.ResetAt.After(time.Now()))

	// rejected requests do not extend the window
	count, err := rc.Client.ZCard(ctx, "ratelimit:user:E1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	short, err := store.Allow(ctx, "user:M1", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, short.Allowed)
	time.Sleep(100 * time.Millisecond)
	short, err = store.Allow(ctx, "user:M1", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, short.Allowed)
}
