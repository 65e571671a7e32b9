package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runContract exercises the behaviour every Storage implementation shares.
func runContract(t *testing.T, open func(t *testing.T, clock *fakeClock) Storage) {
	ctx := context.Background()

	t.Run("create sets defaults", func(t *testing.T) {
		s := open(t, newFakeClock())
		conv, err := s.Create(ctx, "user-1", "campaign-1")
		require.NoError(t, err)

		assert.NotEmpty(t, conv.ID)
		assert.Equal(t, "user-1", conv.UserID)
		assert.Equal(t, "campaign-1", conv.CampaignID)
		assert.Equal(t, models.SearchPeople, conv.SearchType)
		assert.Equal(t, models.StatusActive, conv.Status)
		assert.Equal(t, models.SchemaVersion, conv.SchemaVersion)
		assert.Equal(t, int64(1), conv.Version)
		assert.Empty(t, conv.Messages)
		assert.Empty(t, conv.CurrentFilters)
	})

	t.Run("get unknown returns nil", func(t *testing.T) {
		s := open(t, newFakeClock())
		conv, err := s.Get(ctx, "conv_missing")
		assert.NoError(t, err)
		assert.Nil(t, conv)
	})

	t.Run("append message", func(t *testing.T) {
		s := open(t, newFakeClock())
		conv, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)

		require.NoError(t, s.AppendMessage(ctx, conv.ID, models.Message{Role: models.RoleUser, Content: "CTOs in US"}))
		require.NoError(t, s.AppendMessage(ctx, conv.ID, models.Message{
			Role:    models.RoleAssistant,
			Content: "Targeting CTOs",
			Metadata: &models.MessageMetadata{
				FiltersApplied: []string{"jobTitles"},
			},
		}))

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "CTOs in US", got.Messages[0].Content)
		assert.NotEmpty(t, got.Messages[0].ID)
		assert.False(t, got.Messages[0].Timestamp.IsZero())
		require.NotNil(t, got.Messages[1].Metadata)
		assert.Equal(t, []string{"jobTitles"}, got.Messages[1].Metadata.FiltersApplied)
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("append to unknown conversation", func(t *testing.T) {
		s := open(t, newFakeClock())
		err := s.AppendMessage(ctx, "conv_missing", models.Message{Role: models.RoleUser, Content: "hi"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("commit filters checks version", func(t *testing.T) {
		s := open(t, newFakeClock())
		conv, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)

		first := models.Filters{"jobTitles": []string{"CTO"}, "revenueMin": 1000000.0}
		require.NoError(t, s.CommitFilters(ctx, conv.ID, first, nil, conv.Version))

		err = s.CommitFilters(ctx, conv.ID, models.Filters{"jobTitles": []string{"CMO"}}, nil, conv.Version)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"CTO"}, got.CurrentFilters.StringList("jobTitles"))
		revenue, ok := got.CurrentFilters.Number("revenueMin")
		assert.True(t, ok)
		assert.Equal(t, 1000000.0, revenue)
		assert.Equal(t, int64(2), got.Version)

		require.NoError(t, s.CommitFilters(ctx, conv.ID, models.Filters{}, nil, 0))
		got, err = s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.True(t, got.CurrentFilters.IsEmpty())
	})

	t.Run("commit filters unknown conversation", func(t *testing.T) {
		s := open(t, newFakeClock())
		err := s.CommitFilters(ctx, "conv_missing", models.Filters{}, nil, 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set search type", func(t *testing.T) {
		s := open(t, newFakeClock())
		conv, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)

		require.NoError(t, s.SetSearchType(ctx, conv.ID, models.SearchCompany))
		got, err := s.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SearchCompany, got.SearchType)
		assert.ErrorIs(t, s.SetSearchType(ctx, "conv_missing", models.SearchCompany), ErrNotFound)
	})

	t.Run("list orders by activity", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		a, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		b, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		other, err := s.Create(ctx, "user-2", "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		require.NoError(t, s.AppendMessage(ctx, a.ID, models.Message{Role: models.RoleUser, Content: "bump"}))

		ids, err := s.List(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID}, ids)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, other.ID, b.ID}, all)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t, newFakeClock())
		conv, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, conv.ID))
		got, err := s.Get(ctx, conv.ID)
		assert.NoError(t, err)
		assert.Nil(t, got)

		ids, err := s.List(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, ids)

		assert.NoError(t, s.Delete(ctx, "conv_missing"))
	})

	t.Run("cleanup removes idle conversations", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		stale, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)
		clock.Advance(2 * time.Hour)
		fresh, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)

		removed, err := s.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		got, err := s.Get(ctx, stale.ID)
		assert.NoError(t, err)
		assert.Nil(t, got)
		got, err = s.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestMemoryStorage(t *testing.T) {
	runContract(t, func(t *testing.T, clock *fakeClock) Storage {
		return NewMemoryStorage(zap.NewNop(), WithClock(clock.Now))
	})
}

func TestMemoryStorageGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage(zap.NewNop())
	conv, err := s.Create(ctx, "user-1", "")
	require.NoError(t, err)
	require.NoError(t, s.CommitFilters(ctx, conv.ID, models.Filters{"jobTitles": []string{"CTO"}}, nil, 0))

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	got.CurrentFilters.StringList("jobTitles")[0] = "CMO"
	got.Messages = append(got.Messages, models.Message{Content: "local"})

	again, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CTO"}, again.CurrentFilters.StringList("jobTitles"))
	assert.Empty(t, again.Messages)
}

func TestMemoryStorageEvictsLeastRecentlyActive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStorage(zap.NewNop(), WithClock(clock.Now), WithMaxConversations(2))

	first, err := s.Create(ctx, "user-1", "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.Create(ctx, "user-1", "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, s.AppendMessage(ctx, first.ID, models.Message{Role: models.RoleUser, Content: "keep me"}))
	clock.Advance(time.Second)
	third, err := s.Create(ctx, "user-1", "")
	require.NoError(t, err)

	ids, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID}, ids)

	gone, err := s.Get(ctx, second.ID)
	assert.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMemoryStorageNeverEvictsNewConversation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStorage(zap.NewNop(), WithClock(clock.Now), WithMaxConversations(1))

	for i := 0; i < 5; i++ {
		conv, err := s.Create(ctx, "user-1", "")
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, conv.ID, models.Message{Role: models.RoleUser, Content: "hi"}))

		ids, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{conv.ID}, ids)
	}
}

func TestNewConversationIDPrefixes(t *testing.T) {
	assert.Regexp(t, `^conv_[0-9a-f-]{36}$`, NewConversationID())
	assert.Regexp(t, `^msg_[0-9a-f-]{36}$`, NewMessageID())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "sqlite"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(context.Background(), Config{Driver: DriverRedis}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(context.Background(), Config{Driver: DriverSupabase}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := New(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)
}
