package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryIndex_DueOrdering(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	index := NewExpiryIndex(client)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, index.Track(ctx, "esc-past", now.Add(-time.Hour)))
	require.NoError(t, index.Track(ctx, "esc-due", now.Add(-time.Minute)))
	require.NoError(t, index.Track(ctx, "esc-future", now.Add(time.Hour)))

	due, err := index.Due(ctx, now, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"esc-past", "esc-due"}, due)
}

func TestExpiryIndex_DueRespectsLimit(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	index := NewExpiryIndex(client)
	ctx := context.Background()

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, index.Track(ctx, id, now.Add(-time.Minute)))
	}

	due, err := index.Due(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestExpiryIndex_RemoveDropsEntry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	index := NewExpiryIndex(client)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, index.Track(ctx, "esc-1", now.Add(-time.Minute)))
	require.NoError(t, index.Remove(ctx, "esc-1"))

	due, err := index.Due(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Removing an unknown id is harmless.
	assert.NoError(t, index.Remove(ctx, "esc-missing"))
}

func TestExpiryIndex_TrackUpdatesDeadline(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	index := NewExpiryIndex(client)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, index.Track(ctx, "esc-1", now.Add(-time.Minute)))
	require.NoError(t, index.Track(ctx, "esc-1", now.Add(time.Hour)))

	due, err := index.Due(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, due)
}
