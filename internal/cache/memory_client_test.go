package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestClient(t *testing.T) (*MemoryClient, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryClient(100, WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestMemoryClient_GetSetExpiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestClient(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_SetWithIndex(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestClient(t)

	require.NoError(t, c.SetWithIndex(ctx, "rec:1", []byte("a"), "idx", time.Hour))
	require.NoError(t, c.SetWithIndex(ctx, "rec:2", []byte("b"), "idx", time.Hour))

	members, err := c.Members(ctx, "idx")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"rec:1", "rec:2"}, members)

	vals, err := c.MGet(ctx, "rec:1", "missing", "rec:2")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), nil, []byte("b")}, vals)

	clock.Advance(2 * time.Hour)
	members, err = c.Members(ctx, "idx")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemoryClient_RemoveMissing(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	require.NoError(t, c.SetWithIndex(ctx, "rec:1", []byte("a"), "idx", time.Hour))
	require.NoError(t, c.SetWithIndex(ctx, "rec:2", []byte("b"), "idx", time.Hour))
	require.NoError(t, c.Delete(ctx, "rec:2"))

	n, err := c.RemoveMissing(ctx, "idx", "rec:1", "rec:2", "rec:3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err := c.Members(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec:1"}, members)

	n, err = c.RemoveMissing(ctx, "nope", "rec:1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryClient_SetKeepTTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestClient(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), time.Minute))
	clock.Advance(30 * time.Second)
	require.NoError(t, c.SetKeepTTL(ctx, "k", []byte("v2")))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	clock.Advance(31 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "keepttl must not extend expiry")

	assert.ErrorIs(t, c.SetKeepTTL(ctx, "k", []byte("v3")), ErrCacheMiss)
}

func TestMemoryClient_DeleteIndexed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	n, err := c.DeleteIndexed(ctx, "idx")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.SetWithIndex(ctx, "rec:1", []byte("a"), "idx", time.Hour))
	require.NoError(t, c.SetWithIndex(ctx, "rec:2", []byte("b"), "idx", time.Hour))
	require.NoError(t, c.Set(ctx, "other", []byte("c"), time.Hour))

	n, err = c.DeleteIndexed(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	_, err = c.Get(ctx, "rec:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	require.NoError(t, c.SetWithIndex(ctx, "semantic_cache:t:1", []byte("a"), "semantic_index:t", time.Hour))
	require.NoError(t, c.Set(ctx, "keep", []byte("k"), time.Hour))

	n, err := c.DeleteByPrefix(ctx, "semantic_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryClient_EvictsAtCapacity(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewMemoryClient(2, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss, "earliest expiry is evicted first")
	assert.Equal(t, 2, c.Len())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "semantic_cache:t1:abc", CacheKey("semantic_cache", "t1", "abc"))
}
