package translate

import (
	"context"
	"strings"
	"sync"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator returns a backend that capitalizes the words and adds a
// full stop.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	words := wordsFromPrompt(prompt.Text)
	if words == "" {
		return "", nil
	}
	return strings.ToUpper(words[:1]) + words[1:] + ".", nil
}

func wordsFromPrompt(text string) string {
	const marker = "Sign Language Words: "
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	rest := text[i+len(marker):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// FuncGenerator adapts a function to Generator and records every prompt.
type FuncGenerator struct {
	mu      sync.Mutex
	fn      func(ctx context.Context, prompt Prompt) (string, error)
	prompts []Prompt
}

// NewFuncGenerator returns a Generator that delegates to fn.
func NewFuncGenerator(fn func(ctx context.Context, prompt Prompt) (string, error)) *FuncGenerator {
	return &FuncGenerator{fn: fn}
}

func (g *FuncGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.fn(ctx, prompt)
}

// Prompts returns the prompts received so far.
func (g *FuncGenerator) Prompts() []Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Prompt(nil), g.prompts...)
}
