package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
)

// claudeProvider implements Provider using the Anthropic Claude API
type claudeProvider struct {
	config  *common.ClaudeConfig
	client  anthropic.Client
	logger  arbor.ILogger
	timeout time.Duration
}

func newClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for Claude provider (set ANTHROPIC_API_KEY or llm.claude.api_key)")
	}

	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}

	timeout := common.ParseDurationOr(config.Timeout, 60*time.Second)

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	logger.Debug().
		Str("model", config.Model).
		Str("timeout", timeout.String()).
		Msg("Claude provider initialized")

	return &claudeProvider{
		config:  config,
		client:  client,
		logger:  logger,
		timeout: timeout,
	}, nil
}

func (p *claudeProvider) GenerateContent(ctx context.Context, request *ContentRequest) (*ContentResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request.Prompt)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}
	if request.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.System},
		}
	}

	resp, err := p.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Claude API")
	}

	return &ContentResponse{
		Text:     text.String(),
		Provider: ProviderClaude,
		Model:    p.config.Model,
	}, nil
}

func (p *claudeProvider) GetProviderType() ProviderType {
	return ProviderClaude
}

func (p *claudeProvider) Close() error {
	return nil
}
