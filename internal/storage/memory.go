package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/icp-bot/internal/models"
	"go.uber.org/zap"
)

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithMaxConversations caps the number of stored conversations. The least
// recently active ones are evicted first.
func WithMaxConversations(n int) MemoryOption {
	return func(s *MemoryStorage) {
		s.maxConversations = n
	}
}

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

type MemoryStorage struct {
	mu               sync.RWMutex
	conversations    map[string]*models.Conversation
	maxConversations int
	now              func() time.Time
	logger           *zap.Logger
}

func NewMemoryStorage(logger *zap.Logger, opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		conversations: make(map[string]*models.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, exists := s.conversations[id]; exists {
		return conv.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStorage) Create(ctx context.Context, userID, campaignID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := newConversation(userID, campaignID, s.now())
	s.conversations[conv.ID] = conv
	s.evictIfNeeded(conv.ID)

	return conv.Clone(), nil
}

func (s *MemoryStorage) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}

	now := s.now()
	conv.Messages = append(conv.Messages, prepareMessage(msg, now))
	s.touch(conv, now)
	return nil
}

func (s *MemoryStorage) CommitFilters(ctx context.Context, id string, filters models.Filters, evolutions []models.FilterEvolution, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	if expectedVersion != 0 && conv.Version != expectedVersion {
		s.logger.Warn("Rejected stale filter commit",
			zap.String("conversation_id", id),
			zap.Int64("expected_version", expectedVersion),
			zap.Int64("stored_version", conv.Version))
		return ErrVersionConflict
	}

	conv.CurrentFilters = filters.Clone()
	conv.SchemaVersion = models.SchemaVersion
	s.touch(conv, s.now())

	s.logger.Debug("Committed filters",
		zap.String("conversation_id", id),
		zap.Int("changes", len(evolutions)),
		zap.Int64("version", conv.Version))
	return nil
}

func (s *MemoryStorage) SetSearchType(ctx context.Context, id string, searchType models.SearchType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	conv.SearchType = searchType
	s.touch(conv, s.now())
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]*models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if userID != "" && conv.UserID != userID {
			continue
		}
		convs = append(convs, conv)
	}
	sortByActivity(convs)

	ids := make([]string, len(convs))
	for i, conv := range convs {
		ids[i] = conv.ID
	}
	return ids, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	return nil
}

func (s *MemoryStorage) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for id, conv := range s.conversations {
		if conv.LastActivity.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func (s *MemoryStorage) touch(conv *models.Conversation, now time.Time) {
	conv.Version++
	conv.UpdatedAt = now
	conv.LastActivity = now
}

// evictIfNeeded drops the least recently active conversations over the
// limit. keep is never evicted. Must be called with s.mu held.
func (s *MemoryStorage) evictIfNeeded(keep string) {
	if s.maxConversations <= 0 || len(s.conversations) <= s.maxConversations {
		return
	}

	convs := make([]*models.Conversation, 0, len(s.conversations)-1)
	for id, conv := range s.conversations {
		if id != keep {
			convs = append(convs, conv)
		}
	}
	sortByActivity(convs)

	// One slot belongs to keep.
	for _, conv := range convs[s.maxConversations-1:] {
		delete(s.conversations, conv.ID)
		s.logger.Info("Evicted conversation", zap.String("conversation_id", conv.ID))
	}
}

// sortByActivity orders conversations most recently active first, with the
// id as a tie-breaker so the order is stable.
func sortByActivity(convs []*models.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastActivity.Equal(convs[j].LastActivity) {
			return convs[i].LastActivity.After(convs[j].LastActivity)
		}
		return convs[i].ID < convs[j].ID
	})
}
