package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/supabase-community/supabase-go"
	"github.com/xaenox/icp-bot/internal/models"
	"go.uber.org/zap"
)

const supabaseTable = "icp_conversations"

// SupabaseConfig holds Supabase connection configuration
type SupabaseConfig struct {
	URL    string
	APIKey string
}

// supabaseRow mirrors the icp_conversations table. The conversation itself
// lives in the document column; the other columns exist for filtering.
type supabaseRow struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Version      int64           `json:"version"`
	LastActivity time.Time       `json:"last_activity"`
	Document     json.RawMessage `json:"document"`
}

// SupabaseStorage persists conversations through the Supabase REST API.
// Writes are compare-and-swap updates guarded by the version column.
type SupabaseStorage struct {
	client *supabase.Client
	now    func() time.Time
	logger *zap.Logger
}

func NewSupabaseStorage(cfg SupabaseConfig, logger *zap.Logger) (*SupabaseStorage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: supabase URL is required", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: supabase API key is required", ErrInvalidConfig)
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStorage{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}, nil
}

func (s *SupabaseStorage) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row, err := s.getRow(id)
	if err != nil || row == nil {
		return nil, err
	}
	return decodeConversation(row.Document)
}

func (s *SupabaseStorage) Create(ctx context.Context, userID, campaignID string) (*models.Conversation, error) {
	conv := newConversation(userID, campaignID, s.now())
	row, err := toRow(conv)
	if err != nil {
		return nil, err
	}

	_, _, err = s.client.From(supabaseTable).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *SupabaseStorage) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	return s.update(id, func(conv *models.Conversation, now time.Time) error {
		conv.Messages = append(conv.Messages, prepareMessage(msg, now))
		return nil
	})
}

func (s *SupabaseStorage) CommitFilters(ctx context.Context, id string, filters models.Filters, evolutions []models.FilterEvolution, expectedVersion int64) error {
	err := s.update(id, func(conv *models.Conversation, now time.Time) error {
		if expectedVersion != 0 && conv.Version != expectedVersion {
			return ErrVersionConflict
		}
		conv.CurrentFilters = filters.Clone()
		conv.SchemaVersion = models.SchemaVersion
		return nil
	})
	if err == ErrVersionConflict {
		s.logger.Warn("Rejected stale filter commit",
			zap.String("conversation_id", id),
			zap.Int64("expected_version", expectedVersion))
	}
	return err
}

func (s *SupabaseStorage) SetSearchType(ctx context.Context, id string, searchType models.SearchType) error {
	return s.update(id, func(conv *models.Conversation, now time.Time) error {
		conv.SearchType = searchType
		return nil
	})
}

func (s *SupabaseStorage) List(ctx context.Context, userID string) ([]string, error) {
	query := s.client.From(supabaseTable).Select("id,last_activity", "", false)
	if userID != "" {
		query = query.Eq("user_id", userID)
	}

	var rows []supabaseRow
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LastActivity.Equal(rows[j].LastActivity) {
			return rows[i].LastActivity.After(rows[j].LastActivity)
		}
		return rows[i].ID < rows[j].ID
	})

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, id string) error {
	_, _, err := s.client.From(supabaseTable).
		Delete("minimal", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	var removed []supabaseRow
	_, err := s.client.From(supabaseTable).
		Delete("representation", "").
		Lt("last_activity", cutoff.Format(time.RFC3339Nano)).
		ExecuteTo(&removed)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up conversations: %w", err)
	}
	return len(removed), nil
}

func (s *SupabaseStorage) Close() error {
	return nil
}

func (s *SupabaseStorage) getRow(id string) (*supabaseRow, error) {
	var rows []supabaseRow
	_, err := s.client.From(supabaseTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// update reads the row, applies fn and writes it back only if the stored
// version is still the one that was read.
func (s *SupabaseStorage) update(id string, fn func(conv *models.Conversation, now time.Time) error) error {
	row, err := s.getRow(id)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}

	conv, err := decodeConversation(row.Document)
	if err != nil {
		return err
	}

	now := s.now()
	if err := fn(conv, now); err != nil {
		return err
	}
	readVersion := conv.Version
	conv.Version++
	conv.UpdatedAt = now
	conv.LastActivity = now

	next, err := toRow(conv)
	if err != nil {
		return err
	}

	var written []supabaseRow
	_, err = s.client.From(supabaseTable).
		Update(next, "representation", "").
		Eq("id", id).
		Eq("version", strconv.FormatInt(readVersion, 10)).
		ExecuteTo(&written)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if len(written) == 0 {
		return ErrVersionConflict
	}
	return nil
}

func toRow(conv *models.Conversation) (supabaseRow, error) {
	doc, err := json.Marshal(conv)
	if err != nil {
		return supabaseRow{}, fmt.Errorf("failed to encode conversation: %w", err)
	}
	return supabaseRow{
		ID:           conv.ID,
		UserID:       conv.UserID,
		Version:      conv.Version,
		LastActivity: conv.LastActivity,
		Document:     doc,
	}, nil
}
