// Package speech speaks translated sentences aloud.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/config"
)

var (
	// ErrSpeechFailed is reported by an utterance whose synthesis failed.
	ErrSpeechFailed = errors.New("speech synthesis failed")
	// ErrCanceled is reported by an utterance that was silenced.
	ErrCanceled = errors.New("speech canceled")
)

// Speaker plays text. Starting a new utterance silences the previous one.
type Speaker interface {
	Speak(ctx context.Context, text string) (*Utterance, error)
	// Cancel silences any in-progress utterance immediately.
	Cancel()
	Speaking() bool
}

// New builds the speaker selected by cfg.Mode.
func New(cfg config.SpeechConfig, logger *slog.Logger) (Speaker, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecSpeaker(cfg.Command, cfg.Voice, logger)
	case "mock", "":
		return NewMockSpeaker(0), nil
	default:
		return nil, fmt.Errorf("unsupported speech mode %q", cfg.Mode)
	}
}

// Utterance is one in-flight piece of speech.
type Utterance struct {
	ID   string
	Text string

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func newUtterance(parent context.Context, text string) (*Utterance, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Utterance{
		ID:     uuid.NewString(),
		Text:   text,
		done:   make(chan struct{}),
		cancel: cancel,
	}, ctx
}

// Done is closed when the utterance ends for any reason.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Err returns nil after a completed utterance, ErrCanceled after Cancel, or
// an error wrapping ErrSpeechFailed. It is nil while the utterance runs.
func (u *Utterance) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}

// Cancel silences the utterance.
func (u *Utterance) Cancel() { u.cancel() }

// Wait blocks until the utterance ends or ctx is done.
func (u *Utterance) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *Utterance) finish(err error) {
	u.once.Do(func() {
		u.err = err
		u.cancel()
		close(u.done)
	})
}

// current tracks the single active utterance of a speaker.
type current struct {
	mu sync.Mutex
	u  *Utterance
}

func (c *current) replace(u *Utterance) {
	c.mu.Lock()
	prev := c.u
	c.u = u
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}

func (c *current) clear(u *Utterance) {
	c.mu.Lock()
	if c.u == u {
		c.u = nil
	}
	c.mu.Unlock()
}

func (c *current) cancel() {
	c.mu.Lock()
	u := c.u
	c.u = nil
	c.mu.Unlock()
	if u != nil {
		u.Cancel()
	}
}

func (c *current) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.u != nil
}
