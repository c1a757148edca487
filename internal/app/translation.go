package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/speech"
	"github.com/ayusman/mudra/internal/store"
)

// Translation is the sentence produced from a snapshot of the signs.
type Translation struct {
	Signs        []string `json:"signs"`
	Instruction  string   `json:"instruction,omitempty"`
	Sentence     string   `json:"sentence"`
	Fallback     bool     `json:"fallback"`
	Warning      string   `json:"warning,omitempty"`
	TranscriptID string   `json:"transcript_id,omitempty"`
	Spoken       bool     `json:"spoken"`
}

// Translate turns the current label sequence into a sentence and, when speak
// is set, reads it aloud. Only one translation runs at a time; a concurrent
// call gets ErrTranslationBusy. An empty sequence yields an empty sentence.
func (p *Pipeline) Translate(ctx context.Context, instruction string, speak bool) (*Translation, error) {
	p.mu.Lock()
	if p.translating {
		p.mu.Unlock()
		return nil, ErrTranslationBusy
	}
	p.translating = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.translating = false
		p.mu.Unlock()
	}()

	s := p.session
	signs := s.Signs()
	res, err := p.cfg.Translator.Translate(ctx, signs, instruction)
	if err != nil {
		return nil, err
	}

	out := &Translation{
		Signs:       signs,
		Instruction: instruction,
		Sentence:    res.Sentence,
		Fallback:    res.Fallback,
	}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	if out.Sentence == "" {
		s.setTranslation(out)
		return out, nil
	}
	sessionID := s.ID()
	if p.cfg.Store != nil {
		rec := &store.Transcript{
			SessionID:   sessionID,
			Signs:       signs,
			Instruction: instruction,
			Sentence:    out.Sentence,
			Fallback:    out.Fallback,
		}
		if err := p.cfg.Store.Transcripts().Create(rec); err != nil {
			p.logger.Warn("failed to store transcript", slog.String("error", err.Error()))
		} else {
			out.TranscriptID = rec.ID
		}
	}

	if speak {
		out.Spoken = p.speak(ctx, sessionID, out.Sentence, out.TranscriptID)
	}
	s.setTranslation(out)
	p.publish(events.TypeTranslation, sessionID, out)
	return out, nil
}

// speak starts an utterance that outlives the request. It reports whether
// speech started.
func (p *Pipeline) speak(ctx context.Context, sessionID, text, transcriptID string) bool {
	if p.cfg.Speaker == nil {
		return false
	}
	u, err := p.cfg.Speaker.Speak(context.WithoutCancel(ctx), text)
	if err != nil {
		p.logger.Warn("speech failed to start", slog.String("error", err.Error()))
		return false
	}
	p.publish(events.TypeSpeech, sessionID, map[string]string{"id": u.ID, "state": "started"})
	go p.awaitSpeech(u, sessionID, transcriptID)
	return true
}

func (p *Pipeline) awaitSpeech(u *speech.Utterance, sessionID, transcriptID string) {
	<-u.Done()
	state := "finished"
	if err := u.Err(); errors.Is(err, speech.ErrCanceled) {
		state = "canceled"
	} else if err != nil {
		state = "failed"
		p.logger.Warn("speech did not complete", slog.String("id", u.ID), slog.String("error", err.Error()))
	} else if p.cfg.Store != nil && transcriptID != "" {
		if err := p.cfg.Store.Transcripts().MarkSpoken(transcriptID); err != nil {
			p.logger.Warn("failed to mark transcript spoken", slog.String("error", err.Error()))
		}
	}
	p.publish(events.TypeSpeech, sessionID, map[string]string{"id": u.ID, "state": state})
}
