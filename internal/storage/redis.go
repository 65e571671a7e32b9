package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xaenox/icp-bot/internal/models"
	"go.uber.org/zap"
)

const (
	conversationKeyPrefix = "conversation:"
	userIndexPrefix       = "conversations:user:"
	activityIndexKey      = "conversations:activity"

	defaultRedisTTL = 7 * 24 * time.Hour
)

// RedisStorage keeps each conversation as one JSON document and guards
// writes with WATCH/MULTI/EXEC. Sorted sets scored by last activity back
// List and Cleanup.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewRedisStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStorage {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStorage{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (s *RedisStorage) Get(ctx context.Context, id string) (*models.Conversation, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting conversation: %w", err)
	}
	return decodeConversation(val)
}

func (s *RedisStorage) Create(ctx context.Context, userID, campaignID string) (*models.Conversation, error) {
	conv := newConversation(userID, campaignID, s.now())
	val, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("error encoding conversation: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(conv.ID), val, s.ttl)
		s.index(ctx, pipe, conv)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}
	return conv, nil
}

func (s *RedisStorage) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	return s.update(ctx, id, func(conv *models.Conversation, now time.Time) error {
		conv.Messages = append(conv.Messages, prepareMessage(msg, now))
		return nil
	})
}

func (s *RedisStorage) CommitFilters(ctx context.Context, id string, filters models.Filters, evolutions []models.FilterEvolution, expectedVersion int64) error {
	err := s.update(ctx, id, func(conv *models.Conversation, now time.Time) error {
		if expectedVersion != 0 && conv.Version != expectedVersion {
			return ErrVersionConflict
		}
		conv.CurrentFilters = filters.Clone()
		conv.SchemaVersion = models.SchemaVersion
		return nil
	})
	if errors.Is(err, ErrVersionConflict) {
		s.logger.Warn("Rejected stale filter commit",
			zap.String("conversation_id", id),
			zap.Int64("expected_version", expectedVersion))
	}
	if err == nil {
		s.logger.Debug("Committed filters",
			zap.String("conversation_id", id),
			zap.Int("changes", len(evolutions)))
	}
	return err
}

func (s *RedisStorage) SetSearchType(ctx context.Context, id string, searchType models.SearchType) error {
	return s.update(ctx, id, func(conv *models.Conversation, now time.Time) error {
		conv.SearchType = searchType
		return nil
	})
}

func (s *RedisStorage) List(ctx context.Context, userID string) ([]string, error) {
	key := activityIndexKey
	if userID != "" {
		key = userIndexPrefix + userID
	}

	ids, err := s.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}

	// Documents expire on their own; drop index entries that outlived them.
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("error listing conversations: %w", err)
		}
		if n == 0 {
			s.client.ZRem(ctx, key, id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

func (s *RedisStorage) Delete(ctx context.Context, id string) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, activityIndexKey, id)
		if conv != nil {
			pipe.ZRem(ctx, userIndexPrefix+conv.UserID, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	return nil
}

func (s *RedisStorage) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	ids, err := s.client.ZRangeByScore(ctx, activityIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("error cleaning up conversations: %w", err)
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// update runs fn against the stored conversation inside an optimistic
// transaction and bumps its version. A concurrent write surfaces as
// ErrVersionConflict.
func (s *RedisStorage) update(ctx context.Context, id string, fn func(conv *models.Conversation, now time.Time) error) error {
	key := s.key(id)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		conv, err := decodeConversation(val)
		if err != nil {
			return err
		}

		now := s.now()
		if err := fn(conv, now); err != nil {
			return err
		}
		conv.Version++
		conv.UpdatedAt = now
		conv.LastActivity = now

		newVal, err := json.Marshal(conv)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			s.index(ctx, pipe, conv)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (s *RedisStorage) index(ctx context.Context, pipe redis.Pipeliner, conv *models.Conversation) {
	member := redis.Z{Score: float64(conv.LastActivity.UnixMilli()), Member: conv.ID}
	pipe.ZAdd(ctx, activityIndexKey, member)
	pipe.ZAdd(ctx, userIndexPrefix+conv.UserID, member)
}

func (s *RedisStorage) key(id string) string {
	return conversationKeyPrefix + id
}

func decodeConversation(val []byte) (*models.Conversation, error) {
	var conv models.Conversation
	if err := json.Unmarshal(val, &conv); err != nil {
		return nil, fmt.Errorf("error decoding conversation: %w", err)
	}
	if conv.CurrentFilters == nil {
		conv.CurrentFilters = models.Filters{}
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}
