// Package conversation runs targeting turns: it records the user message,
// asks the model for a new filter snapshot, normalizes and diffs it, and
// commits the result.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/assistant"
	"github.com/xaenox/icp-bot/internal/filters"
	"github.com/xaenox/icp-bot/internal/models"
	"github.com/xaenox/icp-bot/internal/storage"
)

var (
	ErrEmptyMessage      = errors.New("user message is empty")
	ErrInvalidIntent     = errors.New("invalid intent")
	ErrInvalidSearchType = errors.New("invalid search type")
)

type TurnRequest struct {
	UserMessage    string            `json:"userMessage"`
	ConversationID string            `json:"conversationId,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	CampaignID     string            `json:"campaignId,omitempty"`
	Intent         models.Intent     `json:"intent,omitempty"`
	SearchType     models.SearchType `json:"searchType,omitempty"`
}

type TurnResult struct {
	ConversationID       string                   `json:"conversationId"`
	AssistantMessage     string                   `json:"assistantMessage"`
	UpdatedFilters       models.Filters           `json:"updatedFilters"`
	FilterChanges        []models.FilterEvolution `json:"filterChanges"`
	Confidence           float64                  `json:"confidence"`
	ConfidenceLevel      string                   `json:"confidenceLevel"`
	ReasoningExplanation string                   `json:"reasoningExplanation,omitempty"`
	ConflictsDetected    []string                 `json:"conflictsDetected"`
	ClarificationNeeded  []string                 `json:"clarificationNeeded"`
	SuggestedFollowups   []string                 `json:"suggestedFollowups"`
	SearchType           models.SearchType        `json:"searchType"`

	// Created is set when this turn started a new conversation.
	Created bool `json:"created,omitempty"`
	// CreatedBecauseNotFound is set when the caller named a conversation
	// that does not exist and a fresh one was started instead.
	CreatedBecauseNotFound bool `json:"createdBecauseNotFound,omitempty"`
}

type Service struct {
	store    storage.Storage
	proposer assistant.Proposer
	locks    *keyedMutex
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(store storage.Storage, proposer assistant.Proposer, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		proposer: proposer,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// ProcessTurn runs one user turn. Turns on the same conversation are
// serialized; a concurrent write from elsewhere surfaces as
// storage.ErrVersionConflict and nothing is committed.
func (s *Service) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()

	userMessage := strings.TrimSpace(req.UserMessage)
	if userMessage == "" {
		return nil, ErrEmptyMessage
	}
	if !req.Intent.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIntent, req.Intent)
	}
	if req.SearchType != "" && !req.SearchType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSearchType, req.SearchType)
	}

	conv, notFound, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	id := conv.ID

	unlock := s.locks.Lock(id)
	defer unlock()

	logger := s.logger.With(zap.String("conversation_id", id))
	logger.Info("Processing turn",
		zap.String("intent", string(req.Intent)),
		zap.Int("message_length", len(userMessage)))

	if req.SearchType != "" {
		if err := s.store.SetSearchType(ctx, id, req.SearchType); err != nil {
			return nil, fmt.Errorf("set search type: %w", err)
		}
	}

	userMsg := models.Message{Role: models.RoleUser, Content: userMessage}
	if req.Intent != "" {
		userMsg.Metadata = &models.MessageMetadata{Intent: req.Intent}
	}
	if err := s.store.AppendMessage(ctx, id, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	conv, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	proposal, err := s.proposer.Propose(ctx, assistant.Request{
		UserMessage: userMessage,
		Context:     assistant.BuildContext(conv),
		SearchType:  conv.SearchType,
	})
	if err != nil {
		logger.Error("Proposal failed, filters left unchanged", zap.Error(err))
		return nil, fmt.Errorf("propose filters: %w", err)
	}

	searchType := proposedSearchType(proposal.UpdatedFilters, conv.SearchType)
	next := filters.Normalize(proposal.UpdatedFilters)
	changes := filters.DiffAt(conv.CurrentFilters, next, s.now())

	if err := s.store.CommitFilters(ctx, id, next, changes, conv.Version); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			logger.Warn("Conversation changed during turn, filters not committed",
				zap.Int64("expected_version", conv.Version))
		}
		return nil, fmt.Errorf("commit filters: %w", err)
	}

	if searchType != conv.SearchType {
		if err := s.store.SetSearchType(ctx, id, searchType); err != nil {
			return nil, fmt.Errorf("set search type: %w", err)
		}
	}

	confidence := proposal.Confidence
	assistantMsg := models.Message{
		Role:    models.RoleAssistant,
		Content: proposal.AssistantMessage,
		Metadata: &models.MessageMetadata{
			Confidence:           &confidence,
			FiltersApplied:       filters.Fields(changes),
			FilterChanges:        changes,
			ReasoningExplanation: proposal.ReasoningExplanation,
			ConflictsDetected:    proposal.ConflictsDetected,
			ClarificationNeeded:  proposal.ClarificationNeeded,
			SuggestedFollowups:   proposal.SuggestedFollowups,
			ProcessingTimeMillis: time.Since(start).Milliseconds(),
		},
	}
	if err := s.store.AppendMessage(ctx, id, assistantMsg); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	logger.Info("Turn completed",
		zap.Int("filter_changes", len(changes)),
		zap.Float64("confidence", confidence),
		zap.Duration("elapsed", time.Since(start)))

	return &TurnResult{
		ConversationID:         id,
		AssistantMessage:       proposal.AssistantMessage,
		UpdatedFilters:         next,
		FilterChanges:          nonNil(changes),
		Confidence:             confidence,
		ConfidenceLevel:        assistant.ConfidenceLevel(confidence),
		ReasoningExplanation:   proposal.ReasoningExplanation,
		ConflictsDetected:      nonNil(proposal.ConflictsDetected),
		ClarificationNeeded:    nonNil(proposal.ClarificationNeeded),
		SuggestedFollowups:     nonNil(proposal.SuggestedFollowups),
		SearchType:             searchType,
		Created:                req.ConversationID == "" || notFound,
		CreatedBecauseNotFound: notFound,
	}, nil
}

// resolve returns the conversation a turn runs against, creating one when
// no id was given or the given id is unknown.
func (s *Service) resolve(ctx context.Context, req TurnRequest) (*models.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := s.store.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, false, fmt.Errorf("get conversation: %w", err)
		}
		if conv != nil {
			return conv, false, nil
		}
	}

	conv, err := s.store.Create(ctx, req.UserID, req.CampaignID)
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	if req.ConversationID != "" {
		s.logger.Warn("Conversation not found, started a new one",
			zap.String("requested_id", req.ConversationID),
			zap.String("conversation_id", conv.ID))
		return conv, true, nil
	}

	s.logger.Info("Created conversation", zap.String("conversation_id", conv.ID))
	return conv, false, nil
}

// load reads a conversation and upgrades a snapshot committed under an
// incompatible schema version.
func (s *Service) load(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, storage.ErrNotFound
	}

	if !models.SchemaCompatible(conv.SchemaVersion) {
		s.logger.Info("Re-normalizing filters from older schema",
			zap.String("conversation_id", id),
			zap.String("schema_version", conv.SchemaVersion))
		conv.CurrentFilters = filters.Normalize(conv.CurrentFilters)
		conv.SchemaVersion = models.SchemaVersion
	}
	return conv, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.load(ctx, id)
}

func (s *Service) List(ctx context.Context, userID string) ([]string, error) {
	return s.store.List(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.store.Delete(ctx, id)
}

func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	removed, err := s.store.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("Cleaned up idle conversations", zap.Int("removed", removed))
	}
	return removed, nil
}

// RunCleanup calls Cleanup every interval until ctx is done. A non-positive
// interval disables cleanup.
func (s *Service) RunCleanup(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		s.logger.Info("Conversation cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, olderThan); err != nil {
				s.logger.Error("Conversation cleanup failed", zap.Error(err))
			}
		}
	}
}

func proposedSearchType(raw map[string]any, current models.SearchType) models.SearchType {
	if v, ok := raw["searchType"].(string); ok {
		if st := models.SearchType(v); st.Valid() {
			return st
		}
	}
	return current
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
