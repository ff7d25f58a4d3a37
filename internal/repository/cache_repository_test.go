package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
)

func newCacheRepository(t *testing.T) (*CacheRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := NewCacheRepository(client, "test:", zap.NewNop())
	t.Cleanup(func() { _ = repo.Close() })
	return repo, mr
}

func TestCacheRepositorySetGetExpire(t *testing.T) {
	repo, mr := newCacheRepository(t)
	ctx := context.Background()

	var missing int
	require.ErrorIs(t, repo.Get(ctx, "revision:unread:e1", &missing), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "revision:unread:e1", 3, time.Minute))
	assert.True(t, mr.Exists("test:revision:unread:e1"))
	var count int
	require.NoError(t, repo.Get(ctx, "revision:unread:e1", &count))
	assert.Equal(t, 3, count)

	mr.FastForward(2 * time.Minute)
	require.ErrorIs(t, repo.Get(ctx, "revision:unread:e1", &count), appErrors.ErrCacheMiss)
}

func TestCacheRepositoryTreatsUndecodableEntryAsMiss(t *testing.T) {
	repo, mr := newCacheRepository(t)
	require.NoError(t, mr.Set("test:directory:employee:e1", "{not json"))

	var v struct{ Name string }
	assert.ErrorIs(t, repo.Get(context.Background(), "directory:employee:e1", &v), appErrors.ErrCacheMiss)
}

func TestCacheRepositoryDelete(t *testing.T) {
	repo, mr := newCacheRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "directory:employee:a", "A", time.Minute))
	require.NoError(t, repo.Set(ctx, "revision:unread:e1", 1, time.Minute))

	require.NoError(t, repo.Delete(ctx, "revision:unread:e1", "directory:employee:a", "absent"))
	assert.False(t, mr.Exists("test:revision:unread:e1"))
	assert.False(t, mr.Exists("test:directory:employee:a"))
	require.NoError(t, repo.Ping(ctx))
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "", nil)
	ctx := context.Background()
	var v string
	assert.ErrorIs(t, repo.Get(ctx, "k", &v), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "k", "v", time.Minute))
	assert.NoError(t, repo.Delete(ctx, "k"))
	assert.NoError(t, repo.Ping(ctx))
	assert.NoError(t, repo.Close())
}
