package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/common"
	"google.golang.org/genai"
)

// geminiProvider implements Provider using the Google Gemini API
type geminiProvider struct {
	config *common.GeminiConfig
	client *genai.Client
	logger arbor.ILogger
}

func newGeminiProvider(config *common.GeminiConfig, logger arbor.ILogger) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for Gemini provider (set GEMINI_API_KEY or llm.gemini.api_key)")
	}

	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Debug().
		Str("model", config.Model).
		Msg("Gemini provider initialized")

	return &geminiProvider{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

func (p *geminiProvider) GenerateContent(ctx context.Context, request *ContentRequest) (*ContentResponse, error) {
	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(request.Prompt)},
		},
	}

	generateConfig := &genai.GenerateContentConfig{}
	if p.config.Temperature > 0 {
		generateConfig.Temperature = genai.Ptr(p.config.Temperature)
	}
	if request.System != "" {
		generateConfig.SystemInstruction = genai.NewContentFromText(request.System, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, generateConfig)
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	var text strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Gemini API")
	}

	return &ContentResponse{
		Text:     text.String(),
		Provider: ProviderGemini,
		Model:    p.config.Model,
	}, nil
}

func (p *geminiProvider) GetProviderType() ProviderType {
	return ProviderGemini
}

// Close clears the client reference; genai.Client doesn't require explicit close
func (p *geminiProvider) Close() error {
	p.client = nil
	return nil
}
