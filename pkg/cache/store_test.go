package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, hit, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, hit, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, hit, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, hit, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("ci_search", map[string]any{"query": "web", "limit": 10}, "tenant-a")
	b := Key("ci_search", map[string]any{"limit": 10, "query": "web"}, "tenant-a")
	assert.Equal(t, a, b, "key must not depend on map iteration order")
}

func TestKeyDiscriminates(t *testing.T) {
	base := Key("ci_search", map[string]any{"query": "web"}, "tenant-a")

	assert.NotEqual(t, base, Key("ci_aggregate", map[string]any{"query": "web"}, "tenant-a"))
	assert.NotEqual(t, base, Key("ci_search", map[string]any{"query": "db"}, "tenant-a"))
	assert.NotEqual(t, base, Key("ci_search", map[string]any{"query": "web"}, "tenant-b"))
}
