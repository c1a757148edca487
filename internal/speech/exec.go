package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// voicePlaceholder in the command is replaced by the configured voice.
const voicePlaceholder = "{voice}"

type execSpeaker struct {
	cmd    []string
	logger *slog.Logger
	cur    current
}

// NewExecSpeaker runs command once per utterance with the text on stdin, for
// example "espeak-ng --stdin -v {voice}". Arguments naming the voice
// placeholder are dropped when voice is empty.
func NewExecSpeaker(command, voice string, logger *slog.Logger) (Speaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}

	resolved := make([]string, 0, len(args))
	for i, a := range args {
		if !strings.Contains(a, voicePlaceholder) {
			resolved = append(resolved, a)
			continue
		}
		if voice == "" {
			// Drop a preceding flag such as "-v" along with the placeholder.
			if i > 0 && strings.HasPrefix(args[i-1], "-") && len(resolved) > 1 {
				resolved = resolved[:len(resolved)-1]
			}
			continue
		}
		resolved = append(resolved, strings.ReplaceAll(a, voicePlaceholder, voice))
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &execSpeaker{
		cmd:    resolved,
		logger: logger.With(slog.String("component", "speech")),
	}, nil
}

func (e *execSpeaker) Speak(ctx context.Context, text string) (*Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("speak: empty text")
	}

	u, uctx := newUtterance(ctx, text)
	e.cur.replace(u)

	cmd := exec.CommandContext(uctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		e.cur.clear(u)
		u.finish(fmt.Errorf("%w: %v", ErrSpeechFailed, err))
		return u, nil
	}

	go func() {
		err := cmd.Wait()
		e.cur.clear(u)
		switch {
		case uctx.Err() != nil && err != nil:
			u.finish(ErrCanceled)
		case err != nil:
			e.logger.Warn("speech command failed",
				slog.String("error", err.Error()),
				slog.String("stderr", strings.TrimSpace(stderr.String())),
			)
			u.finish(fmt.Errorf("%w: %v", ErrSpeechFailed, err))
		default:
			u.finish(nil)
		}
	}()
	return u, nil
}

func (e *execSpeaker) Cancel() { e.cur.cancel() }

func (e *execSpeaker) Speaking() bool { return e.cur.active() }
