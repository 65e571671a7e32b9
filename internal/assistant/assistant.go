// Package assistant talks to the language model that proposes filter
// updates for a conversation turn.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/icp-bot/internal/models"
)

var ErrMalformedProposal = errors.New("malformed proposal")

const defaultConfidence = 50

// Request is what a Proposer needs to answer one user turn.
type Request struct {
	UserMessage string
	Context     string
	SearchType  models.SearchType
}

// Proposal is the model's answer to one turn. UpdatedFilters is raw and has
// not been normalized yet.
type Proposal struct {
	AssistantMessage     string         `json:"assistantMessage"`
	UpdatedFilters       map[string]any `json:"updatedFilters"`
	Confidence           float64        `json:"confidence"`
	ReasoningExplanation string         `json:"reasoningExplanation,omitempty"`
	ConflictsDetected    []string       `json:"conflictsDetected,omitempty"`
	ClarificationNeeded  []string       `json:"clarificationNeeded,omitempty"`
	SuggestedFollowups   []string       `json:"suggestedFollowups,omitempty"`

	// ConfidenceClamped is set when the model reported a confidence
	// outside 0-100 and it was replaced by the default.
	ConfidenceClamped bool    `json:"-"`
	RawConfidence     float64 `json:"-"`
}

// Proposer returns the model's proposed filter snapshot for a turn.
type Proposer interface {
	Propose(ctx context.Context, req Request) (*Proposal, error)
}

type rawProposal struct {
	AssistantMessage     string          `json:"assistantMessage"`
	UpdatedFilters       json.RawMessage `json:"updatedFilters"`
	Confidence           *float64        `json:"confidence"`
	ReasoningExplanation string          `json:"reasoningExplanation"`
	ConflictsDetected    []string        `json:"conflictsDetected"`
	ClarificationNeeded  []string        `json:"clarificationNeeded"`
	SuggestedFollowups   []string        `json:"suggestedFollowups"`
}

// ParseProposal decodes a model reply. Markdown code fences and stray
// backticks around the JSON are tolerated.
func ParseProposal(content string) (*Proposal, error) {
	cleaned := stripFences(content)

	var raw rawProposal
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}

	if raw.AssistantMessage == "" {
		return nil, fmt.Errorf("%w: missing assistantMessage", ErrMalformedProposal)
	}
	if raw.Confidence == nil {
		return nil, fmt.Errorf("%w: missing numeric confidence", ErrMalformedProposal)
	}

	trimmed := bytes.TrimSpace(raw.UpdatedFilters)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: updatedFilters must be an object", ErrMalformedProposal)
	}
	var filters map[string]any
	if err := json.Unmarshal(trimmed, &filters); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}

	p := &Proposal{
		AssistantMessage:     raw.AssistantMessage,
		UpdatedFilters:       filters,
		Confidence:           *raw.Confidence,
		RawConfidence:        *raw.Confidence,
		ReasoningExplanation: raw.ReasoningExplanation,
		ConflictsDetected:    raw.ConflictsDetected,
		ClarificationNeeded:  raw.ClarificationNeeded,
		SuggestedFollowups:   raw.SuggestedFollowups,
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		p.Confidence = defaultConfidence
		p.ConfidenceClamped = true
	}
	return p, nil
}

func stripFences(content string) string {
	s := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.Trim(strings.TrimSpace(s), "`")
}

// ConfidenceLevel buckets a 0-100 confidence score.
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 85:
		return "high"
	case confidence >= 70:
		return "medium"
	default:
		return "low"
	}
}
