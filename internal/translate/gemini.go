package translate

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-pro"

type geminiGenerator struct {
	client  *genai.Client
	model   string
	baseURL string
}

// NewGeminiGenerator returns a backend for the Gemini API. baseURL overrides
// the API endpoint when set; empty uses Google's endpoint.
func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string) (Generator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiGenerator{client: client, model: model, baseURL: baseURL}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if prompt.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(prompt.Temperature))
	}
	if prompt.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(prompt.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt.Text), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return resp.Text(), nil
}
