package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/labels"
	"github.com/ayusman/mudra/internal/telemetry"
	"github.com/ayusman/mudra/internal/tensor"
)

// SignEvent is the payload of a sign event.
type SignEvent struct {
	Label string `json:"label"`
	Index int    `json:"index"`
}

// StartCapture opens the camera and schedules the inference loop. It fails
// with ErrAssetsLoading while assets load, with the load error if loading
// failed, with ErrSessionActive if already capturing, and with
// ErrCaptureDenied if the camera cannot be opened. Nothing is retried.
func (p *Pipeline) StartCapture(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.loading.Busy():
		return "", ErrAssetsLoading
	case p.assetErr != nil:
		return "", p.assetErr
	case p.classifier == nil:
		return "", ErrAssetsLoading
	}

	s := p.session
	if s.Capturing() {
		return "", ErrSessionActive
	}

	cam := p.cfg.NewCamera(capture.Config{
		DeviceID: p.cfg.Capture.DeviceID,
		Width:    p.cfg.Capture.Width,
		Height:   p.cfg.Capture.Height,
		FPS:      p.cfg.Capture.MaxFPS,
	})
	if err := cam.Open(); err != nil {
		err = fmt.Errorf("%w: %w", ErrCaptureDenied, err)
		s.setLastError(err)
		p.logger.Error("camera unavailable",
			slog.Int("device_id", p.cfg.Capture.DeviceID),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	id := uuid.NewString()
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	epoch, done := s.begin(id, cam, cancel)
	go p.run(loopCtx, s, epoch, done, cam, p.classifier, p.labels)

	if p.cfg.Store != nil {
		if err := p.cfg.Store.Sessions().Start(id, p.cfg.Capture.DeviceID, time.Now()); err != nil {
			p.logger.Warn("failed to record session", slog.String("error", err.Error()))
		}
	}
	p.metrics().SessionStarted(ctx)
	p.publish(events.TypeCaptureStarted, id, nil)
	p.logger.Info("capture started",
		slog.String("session_id", id),
		slog.Duration("interval", p.interval),
	)
	return id, nil
}

// StopCapture cancels the loop and closes the camera. A cycle still in
// flight discards its result.
func (p *Pipeline) StopCapture() error {
	st, ok := p.session.end()
	if !ok {
		return ErrNotCapturing
	}
	st.cancel()
	if err := st.camera.Close(); err != nil {
		p.logger.Warn("error closing camera", slog.String("error", err.Error()))
	}

	if p.cfg.Store != nil {
		lastErr := ""
		if st.lastErr != nil {
			lastErr = st.lastErr.Error()
		}
		if err := p.cfg.Store.Sessions().Finish(st.id, time.Now(), st.signs, lastErr); err != nil {
			p.logger.Warn("failed to finish session", slog.String("error", err.Error()))
		}
	}
	ctx := context.Background()
	p.metrics().SessionStopped(ctx)
	p.publish(events.TypeCaptureStopped, st.id, map[string]int{"signs": len(st.signs)})
	p.logger.Info("capture stopped",
		slog.String("session_id", st.id),
		slog.Int("signs", len(st.signs)),
		slog.Duration("duration", time.Since(st.started)),
	)
	return nil
}

// run executes cycles one at a time until ctx is canceled or the epoch is
// superseded. Ticks that arrive during a slow cycle are dropped.
func (p *Pipeline) run(ctx context.Context, s *CaptureSession, epoch uint64, done chan struct{}, cam capture.Camera, clf Classifier, table *labels.Table) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.current(epoch) {
			return
		}
		p.runCycle(ctx, s, epoch, cam, clf, table)
	}
}

// runCycle reads one frame and appends at most one label. Errors are
// recorded on the session and never stop the loop.
func (p *Pipeline) runCycle(ctx context.Context, s *CaptureSession, epoch uint64, cam capture.Camera, clf Classifier, table *labels.Table) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.cycle")
	defer span.End()

	label, err := p.classifyFrame(ctx, cam, clf, table)
	if ctx.Err() != nil || !s.current(epoch) {
		span.SetAttributes(attribute.Bool("discarded", true))
		return
	}

	id := s.ID()
	switch {
	case err != nil:
		if !s.recordError(epoch, err) {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics().RecordCycle(ctx, time.Since(start), telemetry.OutcomeError)
		p.publish(events.TypeCycleError, id, map[string]string{"error": err.Error()})
		p.logger.Warn("inference cycle failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	case label == "":
		p.metrics().RecordCycle(ctx, time.Since(start), telemetry.OutcomeNoHand)
	default:
		n, ok := s.appendLabel(epoch, label)
		if !ok {
			return
		}
		span.SetAttributes(attribute.String("label", label))
		p.metrics().RecordCycle(ctx, time.Since(start), telemetry.OutcomeSign)
		p.metrics().RecordSign(ctx, label)
		p.publish(events.TypeSign, id, SignEvent{Label: label, Index: n - 1})
		p.logger.Debug("sign recognized", slog.String("label", label), slog.Int("count", n))
	}
}

// classifyFrame returns "" when no hand is visible.
func (p *Pipeline) classifyFrame(ctx context.Context, cam capture.Camera, clf Classifier, table *labels.Table) (string, error) {
	frame, err := cam.ReadFrame()
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}
	defer frame.Close()

	hands, err := p.cfg.Detector.Detect(ctx, frame)
	if err != nil {
		return "", fmt.Errorf("detect hands: %w", err)
	}
	if len(hands) == 0 {
		return "", nil
	}

	vec, err := p.normalizer.Vectorize(hands[0].Points)
	if err != nil {
		return "", err
	}

	input, err := tensor.FromSlice(vec, 1, len(vec))
	if err != nil {
		return "", err
	}
	defer input.Release()

	output, err := clf.Predict(input)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	defer output.Release()

	idx, err := output.ArgMax()
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	if len(idx) == 0 {
		return "", errors.New("classify: empty output")
	}
	return table.Lookup(idx[0]), nil
}
