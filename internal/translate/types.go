package translate

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/mudra/internal/config"
)

// Prompt is what a Generator receives.
type Prompt struct {
	Text        string
	MaxTokens   int
	Temperature float64
}

// Generator is a pluggable text-generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// NewGenerator builds the backend selected by cfg.Mode.
func NewGenerator(ctx context.Context, cfg config.TranslatorConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unsupported translator mode %q", cfg.Mode)
	}
}

// OptionsFromConfig maps translator config onto Translator options.
func OptionsFromConfig(cfg config.TranslatorConfig) Options {
	return Options{
		Timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}
