package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*Cache, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(NewMemoryStore(0), time.Hour).WithClock(func() time.Time { return now })
	return c, &now
}

func TestCachePutThenGet(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	c.Put(ctx, "What is a hash table?", []byte("a map"), "ark", "m1", "", time.Minute)

	got, ok := c.Get(ctx, "  what is a HASH table?  ", "ark", "m1", "default")
	require.True(t, ok)
	assert.Equal(t, []byte("a map"), got)
}

func TestCacheExpires(t *testing.T) {
	c, now := newTestCache()
	ctx := context.Background()

	c.Put(ctx, "What is a hash table?", []byte("a map"), "ark", "m1", "", time.Minute)

	*now = now.Add(59 * time.Second)
	_, ok := c.Get(ctx, "What is a hash table?", "ark", "m1", "")
	assert.True(t, ok)

	*now = now.Add(2 * time.Second)
	_, ok = c.Get(ctx, "What is a hash table?", "ark", "m1", "")
	assert.False(t, ok)

	// 过期条目可以被覆盖
	c.Put(ctx, "What is a hash table?", []byte("fresh"), "ark", "m1", "", 0)
	got, ok := c.Get(ctx, "What is a hash table?", "ark", "m1", "")
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), got)
}

func TestCacheKeySensitivity(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	q := "Explain the CAP theorem"

	assert.NotEqual(t, Key(q, "ark", "m1", ""), Key(q, "gemini", "m1", ""))
	assert.NotEqual(t, Key(q, "ark", "m1", ""), Key(q, "ark", "m2", ""))
	assert.NotEqual(t, Key(q, "ark", "m1", ""), Key(q, "ark", "m1", "pirate"))
	assert.Equal(t, Key(q, "ark", "m1", ""), Key(q, "ark", "m1", "default"))

	c.Put(ctx, q, []byte("from ark"), "ark", "m1", "", 0)
	_, ok := c.Get(ctx, q, "gemini", "m1", "")
	assert.False(t, ok)

	c.Put(ctx, q, []byte("from gemini"), "gemini", "m1", "", 0)
	a, _ := c.Get(ctx, q, "ark", "m1", "")
	g, _ := c.Get(ctx, q, "gemini", "m1", "")
	assert.Equal(t, []byte("from ark"), a)
	assert.Equal(t, []byte("from gemini"), g)
}

func TestIsCacheable(t *testing.T) {
	assert.True(t, IsCacheable("What is a hash table?", false))
	assert.True(t, IsCacheable("Do you know how snow forms?", false))

	assert.False(t, IsCacheable("What is a hash table?", true))
	assert.False(t, IsCacheable("short", false))
	assert.False(t, IsCacheable(string(make([]byte, 1001)), false))
	assert.False(t, IsCacheable("What is the weather today?", false))
	assert.False(t, IsCacheable("What's the latest release of Go", false))
	assert.False(t, IsCacheable("What happened this week in tech", false))
	assert.False(t, IsCacheable("Who won the world cup in 2022", false))
	assert.False(t, IsCacheable("What time is it right now", false))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Entry, error) { return nil, errors.New("boom") }
func (failingStore) Set(context.Context, *Entry) error           { return errors.New("boom") }

func TestCacheFailsOpen(t *testing.T) {
	c := New(failingStore{}, 0)
	ctx := context.Background()

	c.Put(ctx, "What is a hash table?", []byte("x"), "ark", "m1", "", 0)
	_, ok := c.Get(ctx, "What is a hash table?", "ark", "m1", "")
	assert.False(t, ok)

	var nilCache *Cache
	_, ok = nilCache.Get(ctx, "What is a hash table?", "ark", "m1", "")
	assert.False(t, ok)
}

func TestMemoryStoreSweepsExpired(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, s.Set(ctx, &Entry{Key: "a", ExpiresAt: past}))
	require.NoError(t, s.Set(ctx, &Entry{Key: "b", ExpiresAt: past}))
	require.NoError(t, s.Set(ctx, &Entry{Key: "c", ExpiresAt: time.Now().Add(time.Hour)}))

	assert.Equal(t, 1, s.Len())
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, client, "test:")
	assert.Error(t, err)

	// 即使 Redis 不可用，Cache 也只会返回 miss
	c := New(&RedisStore{client: client, prefix: "test:"}, 0)
	_, ok := c.Get(ctx, "What is a hash table?", "ark", "m1", "")
	assert.False(t, ok)
}
