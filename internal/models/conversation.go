package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Action is the kind of change a FilterEvolution describes.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionReplace Action = "replace"
)

// Intent is the optional hint a client sends with a turn.
type Intent string

const (
	IntentInitial Intent = "initial"
	IntentAdd     Intent = "add"
	IntentRemove  Intent = "remove"
	IntentReplace Intent = "replace"
	IntentRefine  Intent = "refine"
	IntentClarify Intent = "clarify"
)

func (i Intent) Valid() bool {
	switch i {
	case "", IntentInitial, IntentAdd, IntentRemove, IntentReplace, IntentRefine, IntentClarify:
		return true
	}
	return false
}

// FilterEvolution describes a single field-level change between two
// canonical snapshots.
type FilterEvolution struct {
	Timestamp     time.Time `json:"timestamp"`
	Field         string    `json:"field"`
	Action        Action    `json:"action"`
	PreviousValue any       `json:"previousValue"`
	NewValue      any       `json:"newValue"`
	Reason        string    `json:"reason"`
}

// MessageMetadata is attached to a message when it is appended and never
// changed afterwards.
type MessageMetadata struct {
	Intent               Intent            `json:"intent,omitempty"`
	Confidence           *float64          `json:"confidence,omitempty"`
	FiltersApplied       []string          `json:"filtersApplied,omitempty"`
	FilterChanges        []FilterEvolution `json:"filterChanges,omitempty"`
	ReasoningExplanation string            `json:"reasoningExplanation,omitempty"`
	ConflictsDetected    []string          `json:"conflictsDetected,omitempty"`
	ClarificationNeeded  []string          `json:"clarificationNeeded,omitempty"`
	SuggestedFollowups   []string          `json:"suggestedFollowups,omitempty"`
	ProcessingTimeMillis int64             `json:"processingTime,omitempty"`
}

// Message is one entry of a conversation log.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusCompleted ConversationStatus = "completed"
	StatusArchived  ConversationStatus = "archived"
)

// Conversation holds the message log and the current canonical filter
// snapshot of one targeting conversation.
type Conversation struct {
	ID             string             `json:"conversationId"`
	UserID         string             `json:"userId,omitempty"`
	CampaignID     string             `json:"campaignId,omitempty"`
	SearchType     SearchType         `json:"searchType"`
	Messages       []Message          `json:"messages"`
	CurrentFilters Filters            `json:"currentFilters"`
	SchemaVersion  string             `json:"schemaVersion"`
	Version        int64              `json:"version"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	LastActivity   time.Time          `json:"lastActivity"`
}

func (c *Conversation) TotalMessages() int {
	return len(c.Messages)
}

// RecentMessages returns at most n of the newest messages, oldest first.
func (c *Conversation) RecentMessages(n int) []Message {
	if n <= 0 || len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// Clone returns a deep enough copy for callers that must not alias the
// stored conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.CurrentFilters = c.CurrentFilters.Clone()
	return &out
}
