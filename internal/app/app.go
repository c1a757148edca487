// Package app runs the sign recognition pipeline: it loads the landmark
// extractor and classifier, drives capture sessions and translates the
// recognized signs into sentences.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/labels"
	"github.com/ayusman/mudra/internal/speech"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/telemetry"
	"github.com/ayusman/mudra/internal/tensor"
	"github.com/ayusman/mudra/internal/translate"
)

var (
	// ErrAssetLoad means the extractor or classifier could not be loaded.
	ErrAssetLoad = errors.New("asset load failed")
	// ErrAssetsLoading rejects capture until both assets are ready.
	ErrAssetsLoading = errors.New("assets are still loading")
	// ErrSessionActive rejects a second capture session on the device.
	ErrSessionActive = errors.New("capture session already active")
	// ErrNotCapturing is returned when stopping an idle session.
	ErrNotCapturing = errors.New("not capturing")
	// ErrCaptureDenied wraps camera permission and device failures.
	ErrCaptureDenied = errors.New("camera access denied")
	// ErrTranslationBusy rejects overlapping translations.
	ErrTranslationBusy = errors.New("translation already in progress")
)

// Classifier maps a [1, n] feature tensor to per-class scores.
type Classifier interface {
	Predict(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Config holds the pipeline's collaborators. Store, Speaker, Events and
// Metrics are optional.
type Config struct {
	Model      config.ModelConfig
	Capture    config.CaptureConfig
	Detector   detector.Detector
	NewCamera  func(capture.Config) capture.Camera
	Translator *translate.Translator
	Speaker    speech.Speaker
	Store      *store.Store
	Events     events.Publisher
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// LoadingState reports which assets are still loading.
type LoadingState struct {
	Extractor  bool `json:"extractor"`
	Classifier bool `json:"classifier"`
}

// Busy reports whether any asset is loading.
func (l LoadingState) Busy() bool { return l.Extractor || l.Classifier }

// Pipeline owns the loaded assets and the device's single capture session.
type Pipeline struct {
	cfg        Config
	logger     *slog.Logger
	tracer     trace.Tracer
	normalizer features.Normalizer
	interval   time.Duration

	mu          sync.Mutex
	loading     LoadingState
	classifier  Classifier
	labels      *labels.Table
	assetErr    error
	session     *CaptureSession
	translating bool // single-flight guard for Translate
}

// New returns an idle pipeline. Assets are not loaded until Load is called.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Translator == nil {
		cfg.Translator = translate.New(nil, translate.Options{}, cfg.Logger)
	}
	metrics := cfg.Metrics
	cfg.Translator.OnResult(func(res translate.Result, elapsed time.Duration) {
		metrics.RecordTranslation(context.Background(), elapsed, res.Fallback)
	})
	if cfg.NewCamera == nil {
		cfg.NewCamera = capture.NewCamera
	}
	if cfg.Model.InputLength <= 0 {
		cfg.Model.InputLength = features.VectorLength
	}
	fps := cfg.Capture.MaxFPS
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     cfg.Logger.With(slog.String("component", "pipeline")),
		tracer:     otel.Tracer("github.com/ayusman/mudra/internal/app"),
		normalizer: features.NewNormalizer(cfg.Model.NormalizationScale),
		interval:   time.Second / time.Duration(fps),
		session:    newCaptureSession(cfg.Capture.DeviceID),
	}
}

// Session returns the pipeline's capture session.
func (p *Pipeline) Session() *CaptureSession { return p.session }

// Signs returns a snapshot of the current label sequence.
func (p *Pipeline) Signs() []string { return p.session.Signs() }

// Loading returns the current loading flags.
func (p *Pipeline) Loading() LoadingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Ready reports whether both assets loaded successfully.
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyLocked()
}

func (p *Pipeline) readyLocked() bool {
	return !p.loading.Busy() && p.assetErr == nil && p.classifier != nil
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Loading     LoadingState `json:"loading"`
	Ready       bool         `json:"ready"`
	Error       string       `json:"error,omitempty"`
	State       State        `json:"state"`
	SessionID   string       `json:"session_id,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Signs       int          `json:"signs"`
	Translation *Translation `json:"translation,omitempty"`
	Translating bool         `json:"translating"`
	Speaking    bool         `json:"speaking"`
}

// Status reports loading, capture and translation state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := Status{
		Loading: p.loading,
		Ready:   p.readyLocked(),
	}
	if p.assetErr != nil {
		st.Error = p.assetErr.Error()
	}
	p.mu.Unlock()

	st.Translating = p.cfg.Translator.IsTranslating()

	snap := p.session.snapshot()
	st.State = snap.state
	st.SessionID = snap.id
	st.Signs = snap.signs
	st.Translation = snap.translation
	if snap.lastErr != nil {
		st.LastError = snap.lastErr.Error()
	}
	if p.cfg.Speaker != nil {
		st.Speaking = p.cfg.Speaker.Speaking()
	}
	return st
}

// Reset clears the label sequence, the last translation and the last cycle
// error, and silences any speech in progress.
func (p *Pipeline) Reset() {
	p.session.reset()
	if p.cfg.Speaker != nil {
		p.cfg.Speaker.Cancel()
	}
	p.publish(events.TypeReset, p.session.ID(), nil)
	p.logger.Info("session reset")
}

// StopSpeaking cancels the current utterance.
func (p *Pipeline) StopSpeaking() {
	if p.cfg.Speaker != nil {
		p.cfg.Speaker.Cancel()
	}
}

// Close stops capture and releases the detector.
func (p *Pipeline) Close() error {
	if err := p.StopCapture(); err != nil && !errors.Is(err, ErrNotCapturing) {
		return err
	}
	p.StopSpeaking()
	if p.cfg.Detector != nil {
		if err := p.cfg.Detector.Close(); err != nil {
			return fmt.Errorf("close detector: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) publish(t events.Type, sessionID string, data any) {
	if p.cfg.Events == nil {
		return
	}
	p.cfg.Events.Publish(events.Event{
		Type:      t,
		SessionID: sessionID,
		Time:      time.Now(),
		Data:      data,
	})
}

// metrics is nil-safe.
func (p *Pipeline) metrics() *telemetry.Metrics { return p.cfg.Metrics }
