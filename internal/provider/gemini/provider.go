// Package gemini adapts the Google Gemini API to the provider interface.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cyclone1070/iav/internal/provider"
	"github.com/Cyclone1070/iav/internal/tool"
	"goa.design/clue/log"
	"google.golang.org/genai"
)

// ErrModelRequired is returned when Generate is called without a model.
var ErrModelRequired = errors.New("model is required")

// GeminiProvider implements provider.Provider for Google Gemini.
type GeminiProvider struct {
	client GeminiClient
}

// NewGeminiProvider creates a GeminiProvider backed by client.
func NewGeminiProvider(client GeminiClient) *GeminiProvider {
	return &GeminiProvider{client: client}
}

// Generate sends the conversation to model and returns the assistant reply.
// Upstream failures are mapped to provider.ProviderError, TerminalQuotaError
// or RetryableQuotaError.
func (p *GeminiProvider) Generate(ctx context.Context, model string, messages []provider.Message, tools []tool.Declaration) (*provider.Message, error) {
	if model == "" {
		return nil, ErrModelRequired
	}

	config := &genai.GenerateContentConfig{
		SafetySettings: defaultSafetySettings(),
		Tools:          toGeminiTools(tools),
	}

	resp, err := p.client.GenerateContent(ctx, model, toGeminiContents(messages), config)
	if err != nil {
		mapped := mapGeminiError(err)
		log.Debug(ctx, log.KV{K: "msg", V: "gemini request failed"}, log.KV{K: "model", V: model}, log.KV{K: "err", V: mapped.Error()})
		return nil, mapped
	}

	msg, err := fromGeminiResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}
	return msg, nil
}

// ListModels returns the text models visible to the configured key.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	return models, nil
}
