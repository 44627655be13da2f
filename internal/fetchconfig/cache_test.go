package fetchconfig

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements the three commands CachedRepo issues.
type fakeRedis struct {
	redis.Cmdable
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type countingRepo struct {
	*MemoryRepo
	lookups int
}

func (c *countingRepo) Lookup(ctx context.Context, k Key) (Row, bool, error) {
	c.lookups++
	return c.MemoryRepo.Lookup(ctx, k)
}

func TestCachedRepo_CachesHitsAndMisses(t *testing.T) {
	backing := &countingRepo{MemoryRepo: NewMemoryRepo(Row{Key: Key{RoleID: "BA"}, QuotaConfig: cfg(4)})}
	c := NewCachedRepo(backing, newFakeRedis(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		row, ok, err := c.Lookup(ctx, Key{RoleID: "BA"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 4, row.TTLHours)

		_, ok, err = c.Lookup(ctx, Key{RoleID: "TL"})
		require.NoError(t, err)
		require.False(t, ok)
	}
	assert.Equal(t, 2, backing.lookups)
}

func TestCachedRepo_WritesInvalidate(t *testing.T) {
	backing := NewMemoryRepo()
	c := NewCachedRepo(backing, newFakeRedis(), time.Minute)
	r := NewResolver(c, defaults)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "BA", nil)
	require.NoError(t, err)
	require.Equal(t, SourceDefault, got.Source)

	row, err := c.Create(ctx, Row{Key: Key{RoleID: "BA"}, QuotaConfig: cfg(5)})
	require.NoError(t, err)
	got, err = r.Resolve(ctx, "BA", nil)
	require.NoError(t, err)
	require.Equal(t, SourceRoleGlobal, got.Source)

	row.Key = Key{RoleID: "TL"}
	_, err = c.Update(ctx, row)
	require.NoError(t, err)
	got, err = r.Resolve(ctx, "BA", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, got.Source, "old key dropped on re-key")
	got, err = r.Resolve(ctx, "TL", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceRoleGlobal, got.Source)
}
