package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MockSpeaker records spoken text and finishes each utterance after a fixed
// duration unless canceled.
type MockSpeaker struct {
	duration time.Duration
	cur      current

	mu     sync.Mutex
	spoken []string
	err    error
}

// NewMockSpeaker returns a speaker whose utterances last d.
func NewMockSpeaker(d time.Duration) *MockSpeaker {
	return &MockSpeaker{duration: d}
}

// SetError makes subsequent utterances fail with err wrapped in ErrSpeechFailed.
func (m *MockSpeaker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Spoken returns every text passed to Speak.
func (m *MockSpeaker) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

func (m *MockSpeaker) Speak(ctx context.Context, text string) (*Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("speak: empty text")
	}
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	failure := m.err
	m.mu.Unlock()

	u, uctx := newUtterance(ctx, text)
	m.cur.replace(u)

	go func() {
		timer := time.NewTimer(m.duration)
		defer timer.Stop()
		select {
		case <-uctx.Done():
			m.cur.clear(u)
			u.finish(ErrCanceled)
		case <-timer.C:
			m.cur.clear(u)
			if failure != nil {
				u.finish(errors.Join(ErrSpeechFailed, failure))
				return
			}
			u.finish(nil)
		}
	}()
	return u, nil
}

func (m *MockSpeaker) Cancel() { m.cur.cancel() }

func (m *MockSpeaker) Speaking() bool { return m.cur.active() }
