package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/models"
)

func newTestRedisStorage(t *testing.T, clock *fakeClock) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorage(client, time.Hour, zap.NewNop())
	s.now = clock.Now
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStorage(t *testing.T) {
	runContract(t, func(t *testing.T, clock *fakeClock) Storage {
		s, _ := newTestRedisStorage(t, clock)
		return s
	})
}

func TestRedisStorageSetsTTL(t *testing.T) {
	s, mr := newTestRedisStorage(t, newFakeClock())
	conv, err := s.Create(context.Background(), "user-1", "")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, mr.TTL(conversationKeyPrefix+conv.ID))
}

func TestRedisStorageListDropsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStorage(t, newFakeClock())
	_, err := s.Create(ctx, "user-1", "")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	ids, err := s.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, mr.Exists(userIndexPrefix+"user-1"))
}

func TestRedisStorageKeepsStringLists(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStorage(t, newFakeClock())
	conv, err := s.Create(ctx, "user-1", "")
	require.NoError(t, err)

	filters := models.Filters{"jobTitles": []string{"CTO", "CMO"}, "hasEmail": true}
	require.NoError(t, s.CommitFilters(ctx, conv.ID, filters, nil, conv.Version))

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CTO", "CMO"}, got.CurrentFilters["jobTitles"])
	assert.Equal(t, true, got.CurrentFilters["hasEmail"])
}
