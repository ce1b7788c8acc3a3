package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySet_AddOnce(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(10, 0)

	added, err := set.Add(ctx, "0x01")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = set.Add(ctx, "0x01")
	require.NoError(t, err)
	assert.False(t, added)

	ok, _ := set.Contains(ctx, "0x01")
	assert.True(t, ok)
	ok, _ = set.Contains(ctx, "0x02")
	assert.False(t, ok)
}

func TestMemorySet_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(2, 0)

	set.Add(ctx, "a")
	set.Add(ctx, "b")
	set.Add(ctx, "c")

	assert.Equal(t, 2, set.Len())
	ok, _ := set.Contains(ctx, "a")
	assert.False(t, ok)
	ok, _ = set.Contains(ctx, "c")
	assert.True(t, ok)
}

func TestMemorySet_Expiry(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(10, time.Minute)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	set.now = func() time.Time { return now }

	added, _ := set.Add(ctx, "0x01")
	assert.True(t, added)

	now = now.Add(30 * time.Second)
	added, _ = set.Add(ctx, "0x01")
	assert.False(t, added)

	now = now.Add(time.Minute)
	ok, _ := set.Contains(ctx, "0x01")
	assert.False(t, ok)

	added, _ = set.Add(ctx, "0x01")
	assert.True(t, added)
}

func TestMemorySet_ConcurrentAddIsAtomic(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(100, 0)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if added, _ := set.Add(ctx, "0xrace"); added {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemorySet_Remove(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(0, 0)

	set.Add(ctx, "0x01")
	require.NoError(t, set.Remove(ctx, "0x01"))

	added, _ := set.Add(ctx, "0x01")
	assert.True(t, added)
}

func newRedisSet(t *testing.T, ttl time.Duration) (*RedisSet, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSet(client, "test:seen", ttl), mr
}

func TestRedisSet_AddOnce(t *testing.T) {
	ctx := context.Background()
	set, mr := newRedisSet(t, time.Hour)

	added, err := set.Add(ctx, "0x01")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = set.Add(ctx, "0x01")
	require.NoError(t, err)
	assert.False(t, added)

	assert.True(t, mr.Exists("test:seen:0x01"))
	ok, err := set.Contains(ctx, "0x01")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisSet_Expiry(t *testing.T) {
	ctx := context.Background()
	set, mr := newRedisSet(t, time.Minute)

	set.Add(ctx, "0x01")
	mr.FastForward(2 * time.Minute)

	ok, err := set.Contains(ctx, "0x01")
	require.NoError(t, err)
	assert.False(t, ok)

	added, _ := set.Add(ctx, "0x01")
	assert.True(t, added)
}

func TestRedisSet_Remove(t *testing.T) {
	ctx := context.Background()
	set, _ := newRedisSet(t, 0)

	set.Add(ctx, "0x01")
	require.NoError(t, set.Remove(ctx, "0x01"))
	ok, _ := set.Contains(ctx, "0x01")
	assert.False(t, ok)
}

func TestNewSets(t *testing.T) {
	ctx := context.Background()

	sets, err := NewSets(ctx, Config{Backend: "memory", Capacity: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemorySet{}, sets.Seen)
	assert.NoError(t, sets.Close())

	mr := miniredis.RunT(t)
	sets, err = NewSets(ctx, Config{Backend: "redis", RedisAddr: mr.Addr(), KeyPrefix: "app", TTL: time.Hour})
	require.NoError(t, err)
	defer sets.Close()

	sets.Seen.Add(ctx, "0x01")
	sets.Confirmed.Add(ctx, "0x02")
	assert.True(t, mr.Exists("app:seen:0x01"))
	assert.True(t, mr.Exists("app:confirmed:0x02"))

	_, err = NewSets(ctx, Config{Backend: "etcd"})
	assert.Error(t, err)
}
