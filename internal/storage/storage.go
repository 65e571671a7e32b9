package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/icp-bot/internal/models"
)

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrVersionConflict = errors.New("conversation version conflict")
	ErrInvalidConfig   = errors.New("invalid storage configuration")
)

// Storage persists conversations. Every mutation is keyed by conversation
// id and bumps the conversation's Version.
type Storage interface {
	// Get returns nil and no error when the conversation does not exist.
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Create(ctx context.Context, userID, campaignID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, id string, msg models.Message) error
	// CommitFilters replaces the whole filter snapshot. A non-zero
	// expectedVersion must match the stored version or ErrVersionConflict
	// is returned and nothing is written.
	CommitFilters(ctx context.Context, id string, filters models.Filters, evolutions []models.FilterEvolution, expectedVersion int64) error
	SetSearchType(ctx context.Context, id string, searchType models.SearchType) error
	// List returns conversation ids, most recent activity first. An empty
	// userID lists every conversation.
	List(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, id string) error
	// Cleanup removes conversations idle for longer than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}

func NewConversationID() string {
	return "conv_" + uuid.New().String()
}

func NewMessageID() string {
	return "msg_" + uuid.New().String()
}

func newConversation(userID, campaignID string, now time.Time) *models.Conversation {
	return &models.Conversation{
		ID:             NewConversationID(),
		UserID:         userID,
		CampaignID:     campaignID,
		SearchType:     models.SearchPeople,
		Messages:       []models.Message{},
		CurrentFilters: models.Filters{},
		SchemaVersion:  models.SchemaVersion,
		Version:        1,
		Status:         models.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivity:   now,
	}
}

// prepareMessage fills the id and timestamp of a message about to be
// appended.
func prepareMessage(msg models.Message, now time.Time) models.Message {
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg
}
