package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T) *ViewCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewViewCache(client, time.Minute)
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []row{{ID: int64(calls), Name: "bolt"}}, nil
	}

	key, err := c.BuildKey(ctx, "items", "bolt")
	require.NoError(t, err)
	require.Equal(t, "items:bolt:1", key)

	var first []row
	require.NoError(t, c.FetchJSON(ctx, key, &first, loader))
	var second []row
	require.NoError(t, c.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, first, second)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "items", "bolt")
	require.NoError(t, err)
	require.Equal(t, "items:bolt:2", key)

	var third []row
	require.NoError(t, c.FetchJSON(ctx, key, &third, loader))
	require.Equal(t, 2, calls)
	require.Equal(t, int64(2), third[0].ID)
}

func TestFetchJSONPropagatesLoaderError(t *testing.T) {
	c := newTestCache(t)
	boom := errors.New("boom")
	var dest []row
	err := c.FetchJSON(context.Background(), "k", &dest, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}

func TestDisabledCachePassesThrough(t *testing.T) {
	c := NewViewCache(nil, time.Minute)
	require.False(t, c.Enabled())
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "orders", "")
	require.NoError(t, err)
	require.Equal(t, "orders:", key)

	calls := 0
	var dest []row
	for i := 0; i < 2; i++ {
		require.NoError(t, c.FetchJSON(ctx, key, &dest, func(context.Context) (any, error) {
			calls++
			return []row{{ID: 1}}, nil
		}))
	}
	require.Equal(t, 2, calls)
	require.NoError(t, c.Bump(ctx))
}
