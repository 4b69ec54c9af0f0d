package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
)

// ProviderType represents the AI provider type
type ProviderType string

const (
	// ProviderClaude uses Anthropic Claude API
	ProviderClaude ProviderType = "claude"
	// ProviderGemini uses Google Gemini API
	ProviderGemini ProviderType = "gemini"
)

// ContentRequest represents a provider-agnostic content generation request
type ContentRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// ContentResponse represents a provider-agnostic content generation response
type ContentResponse struct {
	Text     string
	Provider ProviderType
	Model    string
}

// Provider defines the interface for AI content generation. Provider
// selection is an explicit configuration value threaded through
// constructors, never process-wide mutable state.
type Provider interface {
	GenerateContent(ctx context.Context, request *ContentRequest) (*ContentResponse, error)
	GetProviderType() ProviderType
	Close() error
}

// NewProvider creates the provider named by config. An empty provider name
// returns (nil, nil): callers fall back to heuristic analysis.
func NewProvider(config *common.LLMConfig, logger arbor.ILogger) (Provider, error) {
	switch ProviderType(config.Provider) {
	case "":
		return nil, nil
	case ProviderClaude:
		return newClaudeProvider(&config.Claude, logger)
	case ProviderGemini:
		return newGeminiProvider(&config.Gemini, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", config.Provider)
	}
}
