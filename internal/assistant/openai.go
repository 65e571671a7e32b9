package assistant

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type OpenAIProposer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	now         func() time.Time
	logger      *zap.Logger
}

func NewOpenAIProposer(cfg Config, logger *zap.Logger) *OpenAIProposer {
	cfg = cfg.withDefaults(defaultOpenAIModel)

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProposer{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: *cfg.Temperature,
		now:         time.Now,
		logger:      logger,
	}
}

func (p *OpenAIProposer) Propose(ctx context.Context, req Request) (*Proposal, error) {
	prompt := BuildPrompt(req.UserMessage, req.Context, req.SearchType, p.now())

	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: SystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   p.maxTokens,
			Temperature: requestTemperature(p.temperature),
		},
	)
	if err != nil {
		p.logger.Error("Failed to get OpenAI response", zap.Error(err))
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("openai returned no content")
	}

	return decode(resp.Choices[0].Message.Content, p.logger)
}

// requestTemperature keeps an explicit zero on the wire; go-openai omits a
// zero temperature and the API would then apply its own default.
func requestTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
