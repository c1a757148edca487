// Package translate turns a sequence of recognized sign labels into a
// sentence using a language model, falling back to the raw words.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ErrTranslationUnavailable marks a result that fell back to the raw words.
var ErrTranslationUnavailable = errors.New("translation unavailable")

// Result is the outcome of a translation.
type Result struct {
	Sentence string
	// Fallback is set when Sentence is the space-joined input.
	Fallback bool
	// Warning wraps ErrTranslationUnavailable when Fallback is set.
	Warning error
}

// Options tune each generation request.
type Options struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Translator calls a Generator and never fails a translation outright.
type Translator struct {
	gen      Generator
	opts     Options
	logger   *slog.Logger
	busy     atomic.Int32
	onResult func(Result, time.Duration)
}

// New returns a Translator backed by gen.
func New(gen Generator, opts Options, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		gen:    gen,
		opts:   opts,
		logger: logger.With(slog.String("component", "translator")),
	}
}

// OnResult registers a callback invoked after every non-empty translation.
func (t *Translator) OnResult(fn func(Result, time.Duration)) {
	t.onResult = fn
}

// IsTranslating reports whether a call is in flight.
func (t *Translator) IsTranslating() bool {
	return t.busy.Load() > 0
}

// Translate converts signs into a sentence following instruction. An empty
// sequence returns an empty Result without contacting the backend. Backend
// failures produce a fallback Result with a nil error.
func (t *Translator) Translate(ctx context.Context, signs []string, instruction string) (Result, error) {
	if len(signs) == 0 {
		return Result{}, nil
	}

	t.busy.Add(1)
	defer t.busy.Add(-1)

	start := time.Now()
	res := t.generate(ctx, signs, instruction)
	elapsed := time.Since(start)

	if res.Fallback {
		t.logger.Warn("translation fell back to raw signs",
			slog.Int("signs", len(signs)),
			slog.String("error", res.Warning.Error()),
		)
	} else {
		t.logger.Debug("translation complete",
			slog.Int("signs", len(signs)),
			slog.Duration("latency", elapsed),
		)
	}
	if t.onResult != nil {
		t.onResult(res, elapsed)
	}
	return res, nil
}

func (t *Translator) generate(ctx context.Context, signs []string, instruction string) Result {
	raw := strings.Join(signs, " ")
	fallback := func(err error) Result {
		return Result{
			Sentence: raw,
			Fallback: true,
			Warning:  fmt.Errorf("%w: %w", ErrTranslationUnavailable, err),
		}
	}

	if t.gen == nil {
		return fallback(errors.New("no generator configured"))
	}

	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	text, err := t.gen.Generate(ctx, Prompt{
		Text:        BuildPrompt(signs, instruction),
		MaxTokens:   t.opts.MaxTokens,
		Temperature: t.opts.Temperature,
	})
	if err != nil {
		return fallback(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback(errors.New("empty response"))
	}
	return Result{Sentence: text}
}
