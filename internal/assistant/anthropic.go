package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

type AnthropicProposer struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	now         func() time.Time
	logger      *zap.Logger
}

func NewAnthropicProposer(cfg Config, logger *zap.Logger) *AnthropicProposer {
	cfg = cfg.withDefaults(defaultAnthropicModel)

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProposer{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: *cfg.Temperature,
		now:         time.Now,
		logger:      logger,
	}
}

func (p *AnthropicProposer) Propose(ctx context.Context, req Request) (*Proposal, error) {
	prompt := BuildPrompt(req.UserMessage, req.Context, req.SearchType, p.now())

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(p.temperature),
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.logger.Error("Failed to get Anthropic response", zap.Error(err))
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}
	if strings.TrimSpace(content.String()) == "" {
		return nil, fmt.Errorf("anthropic returned no content")
	}

	return decode(content.String(), p.logger)
}
