package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/models"
)

const validReply = `{
  "assistantMessage": "Targeting CTOs in the US",
  "updatedFilters": {"searchType": "people", "jobTitles": ["CTO"], "personLocations": ["US"]},
  "confidence": 92,
  "reasoningExplanation": "Clear request",
  "conflictsDetected": [],
  "clarificationNeeded": [],
  "suggestedFollowups": ["Add an industry"]
}`

func TestParseProposal(t *testing.T) {
	p, err := ParseProposal(validReply)
	require.NoError(t, err)
	assert.Equal(t, "Targeting CTOs in the US", p.AssistantMessage)
	assert.Equal(t, 92.0, p.Confidence)
	assert.Equal(t, "people", p.UpdatedFilters["searchType"])
	assert.Equal(t, []any{"CTO"}, p.UpdatedFilters["jobTitles"])
	assert.Equal(t, []string{"Add an industry"}, p.SuggestedFollowups)
	assert.False(t, p.ConfidenceClamped)
}

func TestParseProposalStripsFences(t *testing.T) {
	for _, content := range []string{
		"```json\n" + validReply + "\n```",
		"```\n" + validReply + "\n```",
		"`" + validReply + "`",
		"  \n" + validReply + "\n ",
	} {
		p, err := ParseProposal(content)
		require.NoError(t, err, content)
		assert.Equal(t, "Targeting CTOs in the US", p.AssistantMessage)
	}
}

func TestParseProposalMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":             "I could not understand that",
		"missing message":      `{"updatedFilters": {}, "confidence": 80}`,
		"missing filters":      `{"assistantMessage": "hi", "confidence": 80}`,
		"filters not object":   `{"assistantMessage": "hi", "updatedFilters": [], "confidence": 80}`,
		"filters null":         `{"assistantMessage": "hi", "updatedFilters": null, "confidence": 80}`,
		"missing confidence":   `{"assistantMessage": "hi", "updatedFilters": {}}`,
		"confidence as string": `{"assistantMessage": "hi", "updatedFilters": {}, "confidence": "80"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProposal(content)
			assert.ErrorIs(t, err, ErrMalformedProposal)
		})
	}
}

func TestParseProposalClampsConfidence(t *testing.T) {
	for _, c := range []float64{-5, 140} {
		p, err := ParseProposal(fmt.Sprintf(`{"assistantMessage": "ok", "updatedFilters": {}, "confidence": %g}`, c))
		require.NoError(t, err)
		assert.Equal(t, 50.0, p.Confidence)
		assert.True(t, p.ConfidenceClamped)
		assert.Equal(t, c, p.RawConfidence)
	}

	p, err := ParseProposal(`{"assistantMessage": "ok", "updatedFilters": {}, "confidence": 0}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Confidence)
	assert.False(t, p.ConfidenceClamped)
}

func TestConfidenceLevel(t *testing.T) {
	assert.Equal(t, "high", ConfidenceLevel(85))
	assert.Equal(t, "high", ConfidenceLevel(99))
	assert.Equal(t, "medium", ConfidenceLevel(70))
	assert.Equal(t, "medium", ConfidenceLevel(84.9))
	assert.Equal(t, "low", ConfidenceLevel(69))
}

func TestBuildContext(t *testing.T) {
	conv := &models.Conversation{
		SearchType: models.SearchPeople,
		CurrentFilters: models.Filters{
			"revenueMin": 1000000.0,
			"jobTitles":  []string{"CTO", "CMO"},
			"hasEmail":   true,
		},
	}
	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		conv.Messages = append(conv.Messages, models.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}

	ctx := BuildContext(conv)
	assert.Contains(t, ctx, "Current Filter State: jobTitles: CTO, CMO | hasEmail: true | revenueMin: 1000000")
	assert.NotContains(t, ctx, "message 0")
	assert.NotContains(t, ctx, "message 1\n")
	assert.Contains(t, ctx, "User: message 2")
	assert.Contains(t, ctx, "Assistant: message 7")
}

func TestBuildContextEmpty(t *testing.T) {
	ctx := BuildContext(&models.Conversation{SearchType: models.SearchCompany, CurrentFilters: models.Filters{}})
	assert.Contains(t, ctx, "No filters set")
	assert.NotContains(t, ctx, "Recent Conversation")
}

func TestBuildPrompt(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	prompt := BuildPrompt("hiring engineers recently", "CTX\n", models.SearchCompany, now)

	assert.True(t, strings.HasPrefix(prompt, "CTX\n"))
	assert.Contains(t, prompt, `NEW USER MESSAGE: "hiring engineers recently"`)
	assert.Contains(t, prompt, "today is 2026-10-16")
	assert.Contains(t, prompt, `"recently" -> organizationJobPostedAtMin: "2026-10-02"`)
	assert.Contains(t, prompt, `"this year" -> organizationJobPostedAtMin: "2026-01-01"`)
	assert.Contains(t, prompt, `"searchType": "company"`)
	for _, field := range models.Schema {
		assert.Contains(t, prompt, `"`+field.Name+`"`)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(Config{Provider: ProviderOpenAI, APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProposer{}, p)

	p, err = New(Config{Provider: ProviderAnthropic, APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &AnthropicProposer{}, p)

	_, err = New(Config{Provider: "mystery", APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Provider: ProviderOpenAI}, zap.NewNop())
	assert.Error(t, err)
}

func TestConfigTemperatureDefaults(t *testing.T) {
	zero, warm, negative := 0.0, 0.7, -1.0

	assert.InDelta(t, 0.1, *Config{}.withDefaults("m").Temperature, 1e-9)
	assert.InDelta(t, 0.1, *Config{Temperature: &negative}.withDefaults("m").Temperature, 1e-9)
	assert.InDelta(t, 0.7, *Config{Temperature: &warm}.withDefaults("m").Temperature, 1e-9)
	assert.Zero(t, *Config{Temperature: &zero}.withDefaults("m").Temperature)

	assert.NotZero(t, requestTemperature(0))
	assert.InDelta(t, 0, requestTemperature(0), 1e-9)
	assert.InDelta(t, 0.7, requestTemperature(0.7), 1e-6)
}

func TestOpenAIProposer(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "```json\n" + validReply + "\n```"},
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProposer(Config{APIKey: "test-key", BaseURL: server.URL + "/v1"}, zap.NewNop())
	proposal, err := p.Propose(context.Background(), Request{UserMessage: "CTOs in US", Context: "CTX", SearchType: models.SearchPeople})
	require.NoError(t, err)

	assert.Equal(t, "Targeting CTOs in the US", proposal.AssistantMessage)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 3000, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "CTOs in US")
}

func TestOpenAIProposerMalformedReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": "Sure! I updated the filters."},
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProposer(Config{APIKey: "test-key", BaseURL: server.URL + "/v1"}, zap.NewNop())
	_, err := p.Propose(context.Background(), Request{UserMessage: "hi"})
	assert.ErrorIs(t, err, ErrMalformedProposal)
}

func TestAnthropicProposer(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-3-5-sonnet-latest",
			"stop_reason":   "end_turn",
			"content":       []map[string]any{{"type": "text", "text": validReply}},
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
			"stop_sequence": nil,
		})
	}))
	defer server.Close()

	p := NewAnthropicProposer(Config{APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())
	proposal, err := p.Propose(context.Background(), Request{UserMessage: "CTOs in US", SearchType: models.SearchPeople})
	require.NoError(t, err)

	assert.Equal(t, 92.0, proposal.Confidence)
	assert.Equal(t, "claude-3-5-sonnet-latest", got.Model)
	assert.Equal(t, 3000, got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Equal(t, SystemPrompt, got.System[0].Text)
}
