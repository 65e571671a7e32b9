package assistant

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultOpenAIModel    = "gpt-4o"
	defaultAnthropicModel = "claude-3-5-sonnet-latest"
	defaultMaxTokens      = 3000
	defaultTemperature    = 0.1
)

type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	// Temperature is nil for the default. Zero is a valid setting.
	Temperature *float64
}

func (c Config) withDefaults(model string) Config {
	if c.Model == "" {
		c.Model = model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature == nil || *c.Temperature < 0 {
		t := defaultTemperature
		c.Temperature = &t
	}
	return c
}

// New returns the Proposer for cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Proposer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is not configured", cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIProposer(cfg, logger), nil
	case ProviderAnthropic:
		return NewAnthropicProposer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

func decode(content string, logger *zap.Logger) (*Proposal, error) {
	proposal, err := ParseProposal(content)
	if err != nil {
		logger.Error("Failed to parse model response",
			zap.Error(err),
			zap.String("response", content))
		return nil, err
	}

	if proposal.ConfidenceClamped {
		logger.Warn("Invalid confidence score, using default",
			zap.Float64("confidence", proposal.RawConfidence))
	}
	if len(proposal.ConflictsDetected) > 0 {
		logger.Info("Conflicts detected", zap.Strings("conflicts", proposal.ConflictsDetected))
	}
	if len(proposal.ClarificationNeeded) > 0 {
		logger.Info("Clarification needed", zap.Strings("questions", proposal.ClarificationNeeded))
	}
	return proposal, nil
}
