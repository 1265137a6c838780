package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mc := NewMemoryCache()
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	n, err := mc.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = mc.IncrWithExpiry(ctx, "other", 10*time.Second)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	n, _ = mc.IncrWithExpiry(ctx, "k", time.Minute)
	assert.Equal(t, int64(2), n, "window is fixed at first increment")

	now = now.Add(31 * time.Second)
	n, _ = mc.IncrWithExpiry(ctx, "k", time.Minute)
	assert.Equal(t, int64(1), n)

	_, ok := mc.live("other")
	assert.False(t, ok)
	assert.Len(t, mc.entries, 1)
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	mc := NewMemoryCache()
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := mc.IncrWithExpiry(ctx, "k", 0)
	require.NoError(t, err)
	now = now.Add(365 * 24 * time.Hour)

	n, err := mc.IncrWithExpiry(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
