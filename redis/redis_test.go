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

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client), mr
}

type payload struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

func TestCache_SetThenGet(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", payload{Title: "a", Count: 2}, time.Minute))

	var got payload
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{Title: "a", Count: 2}, got)
}

func TestCache_MissingKey(t *testing.T) {
	cache, _ := setupCache(t)

	var got payload
	found, err := cache.Get(context.Background(), "missing", &got)

	assert.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Expires(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", 1, time.Second))

	mr.FastForward(2 * time.Second)

	var got int
	found, _ := cache.Get(ctx, "k", &got)
	assert.False(t, found)
}

func TestCache_Versions(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	assert.Equal(t, int64(0), cache.GetVersion(ctx, "v"))
	cache.IncrementVersion(ctx, "v")
	cache.IncrementVersion(ctx, "v")
	assert.Equal(t, int64(2), cache.GetVersion(ctx, "v"))
}

func TestCache_NilClientIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "k", 1, time.Minute))
	found, err := cache.Get(ctx, "k", new(int))
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(0), NewCache(nil).GetVersion(ctx, "v"))
}
