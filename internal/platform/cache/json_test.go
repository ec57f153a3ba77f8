package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T) *JSONCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJSONCache(client, "refdata", time.Minute)
}

func TestFetchJSONCachesLoaderResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, "status", "in_stock")
	require.NoError(t, err)
	require.Equal(t, "refdata:status:in_stock:1", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return doc{ID: 1, Name: "in_stock"}, nil
	}
	var first, second doc
	require.NoError(t, c.FetchJSON(ctx, key, &first, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, doc{ID: 1, Name: "in_stock"}, second)
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var out doc
	err := c.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	err = c.FetchJSON(ctx, "k", &out, func(context.Context) (any, error) { return doc{ID: 2}, nil })
	require.NoError(t, err)
	require.EqualValues(t, 2, out.ID)
}

func TestBumpRotatesKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	before, err := c.BuildKey(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Bump(ctx))
	after, err := c.BuildKey(ctx, "a")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestNilClientPassesThrough(t *testing.T) {
	c := NewJSONCache(nil, "refdata", time.Minute)
	calls := 0
	var out doc
	for i := 0; i < 2; i++ {
		require.NoError(t, c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
			calls++
			return doc{ID: 7}, nil
		}))
	}
	require.Equal(t, 2, calls)
	require.EqualValues(t, 7, out.ID)
}
