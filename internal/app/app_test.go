package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ayusman/mudra/internal/capture"
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

// fakeClassifier returns whatever fn produces for each call, counting from 1.
type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*tensor.Tensor, error)
}

func (f *fakeClassifier) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func oneHot(class, n int) (*tensor.Tensor, error) {
	values := make([]float64, n)
	values[class] = 1
	return tensor.FromSlice(values, 1, n)
}

func constantClassifier(class int) *fakeClassifier {
	return &fakeClassifier{fn: func(int) (*tensor.Tensor, error) { return oneHot(class, 3) }}
}

type fixture struct {
	pipeline *Pipeline
	detector *detector.MockDetector
	camera   *capture.MockCamera
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture returns a pipeline with assets in place whose loop never ticks,
// so tests drive cycles by hand.
func newFixture(t *testing.T, clf Classifier, mutate func(*Config)) *fixture {
	t.Helper()
	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.ThumbsUpLandmarks()})
	cam := capture.NewBlankMockCamera()

	cfg := Config{
		Detector:  det,
		NewCamera: func(capture.Config) capture.Camera { return cam },
		Logger:    discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p := New(cfg)
	p.classifier = clf
	p.labels = labels.New("hello", "thanks", "yes")
	p.interval = time.Hour
	t.Cleanup(func() { p.StopCapture() })
	return &fixture{pipeline: p, detector: det, camera: cam}
}

func (f *fixture) start(t *testing.T) uint64 {
	t.Helper()
	if _, err := f.pipeline.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	s := f.pipeline.session
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (f *fixture) cycle(epoch uint64) {
	p := f.pipeline
	p.runCycle(context.Background(), p.session, epoch, f.camera, p.classifier, p.labels)
}

func TestStartCapture_RejectedWhileLoading(t *testing.T) {
	for _, loading := range []LoadingState{{Extractor: true}, {Classifier: true}, {Extractor: true, Classifier: true}} {
		f := newFixture(t, constantClassifier(0), nil)
		f.pipeline.loading = loading

		_, err := f.pipeline.StartCapture(context.Background())
		if !errors.Is(err, ErrAssetsLoading) {
			t.Fatalf("loading %+v: error = %v, want ErrAssetsLoading", loading, err)
		}
		if opens, _, _ := f.camera.Stats(); opens != 0 {
			t.Errorf("camera opened %d times while loading", opens)
		}
		if f.pipeline.Session().Capturing() {
			t.Error("session should stay idle")
		}
	}
}

func TestStartCapture_NoClassifier(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.pipeline.classifier = nil

	if _, err := f.pipeline.StartCapture(context.Background()); !errors.Is(err, ErrAssetsLoading) {
		t.Errorf("error = %v, want ErrAssetsLoading", err)
	}
}

func TestStartCapture_AssetError(t *testing.T) {
	f := newFixture(t, constantClassifier(0), nil)
	f.pipeline.assetErr = errors.Join(ErrAssetLoad, errors.New("model.json missing"))

	if _, err := f.pipeline.StartCapture(context.Background()); !errors.Is(err, ErrAssetLoad) {
		t.Errorf("error = %v, want ErrAssetLoad", err)
	}
	if f.pipeline.Ready() {
		t.Error("Ready() = true with an asset error")
	}
}

func TestStartCapture_CameraDenied(t *testing.T) {
	f := newFixture(t, constantClassifier(0), nil)
	f.camera.SetOpenError(capture.ErrDeviceUnavailable)

	_, err := f.pipeline.StartCapture(context.Background())
	if !errors.Is(err, ErrCaptureDenied) {
		t.Fatalf("error = %v, want ErrCaptureDenied", err)
	}
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("error = %v, want wrapped device error", err)
	}
	if f.pipeline.Session().Capturing() {
		t.Error("session should be idle after a denied start")
	}
	if f.pipeline.Session().LastError() == nil {
		t.Error("denied start should be visible as the last error")
	}

	// The user retries explicitly.
	f.camera.SetOpenError(nil)
	if _, err := f.pipeline.StartCapture(context.Background()); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if opens, _, _ := f.camera.Stats(); opens != 2 {
		t.Errorf("opens = %d, want 2", opens)
	}
}

func TestStartCapture_SessionActive(t *testing.T) {
	f := newFixture(t, constantClassifier(0), nil)
	f.start(t)

	if _, err := f.pipeline.StartCapture(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("error = %v, want ErrSessionActive", err)
	}
}

func TestStopCapture(t *testing.T) {
	t.Run("not capturing", func(t *testing.T) {
		f := newFixture(t, constantClassifier(0), nil)
		if err := f.pipeline.StopCapture(); !errors.Is(err, ErrNotCapturing) {
			t.Errorf("error = %v, want ErrNotCapturing", err)
		}
	})

	t.Run("closes camera and ends loop", func(t *testing.T) {
		f := newFixture(t, constantClassifier(0), nil)
		f.start(t)
		done := f.pipeline.Session().Done()

		if err := f.pipeline.StopCapture(); err != nil {
			t.Fatalf("StopCapture() error = %v", err)
		}
		if f.camera.IsOpen() {
			t.Error("camera still open after stop")
		}
		if got := f.pipeline.Session().State(); got != StateIdle {
			t.Errorf("state = %s, want idle", got)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not exit after stop")
		}
	})
}

func TestRunCycle_AppendsLabel(t *testing.T) {
	f := newFixture(t, constantClassifier(1), nil)
	epoch := f.start(t)

	f.cycle(epoch)
	f.cycle(epoch)

	got := f.pipeline.Session().Signs()
	if len(got) != 2 || got[0] != "thanks" || got[1] != "thanks" {
		t.Errorf("signs = %v, want [thanks thanks]", got)
	}
}

func TestRunCycle_EmptyDetection(t *testing.T) {
	clf := constantClassifier(0)
	f := newFixture(t, clf, nil)
	f.detector.SetHands(nil)
	epoch := f.start(t)

	for i := 0; i < 3; i++ {
		f.cycle(epoch)
	}

	if n := len(f.pipeline.Session().Signs()); n != 0 {
		t.Errorf("signs = %d, want 0", n)
	}
	if err := f.pipeline.Session().LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
	if clf.Calls() != 0 {
		t.Errorf("classifier called %d times without a hand", clf.Calls())
	}
}

func TestRunCycle_OneFailureInFive(t *testing.T) {
	clf := &fakeClassifier{fn: func(call int) (*tensor.Tensor, error) {
		if call == 3 {
			return nil, errors.New("backend hiccup")
		}
		return oneHot(0, 3)
	}}
	f := newFixture(t, clf, nil)
	epoch := f.start(t)

	for i := 0; i < 5; i++ {
		f.cycle(epoch)
	}

	s := f.pipeline.Session()
	if n := len(s.Signs()); n != 4 {
		t.Errorf("signs = %d, want 4", n)
	}
	if !s.Capturing() {
		t.Error("session stopped after a failed cycle")
	}
	if err := s.LastError(); err == nil || !strings.Contains(err.Error(), "backend hiccup") {
		t.Errorf("LastError() = %v", err)
	}
}

func TestRunCycle_InvalidLandmarks(t *testing.T) {
	f := newFixture(t, constantClassifier(0), nil)
	f.detector.SetHands([]detector.HandLandmarks{detector.MalformedLandmarks(20)})
	epoch := f.start(t)

	f.cycle(epoch)

	if err := f.pipeline.Session().LastError(); !errors.Is(err, features.ErrInvalidLandmarkShape) {
		t.Errorf("LastError() = %v, want ErrInvalidLandmarkShape", err)
	}
	if n := len(f.pipeline.Session().Signs()); n != 0 {
		t.Errorf("signs = %d, want 0", n)
	}
}

func TestRunCycle_OutOfRangeIndex(t *testing.T) {
	clf := &fakeClassifier{fn: func(int) (*tensor.Tensor, error) { return oneHot(4, 5) }}
	f := newFixture(t, clf, nil)
	epoch := f.start(t)

	f.cycle(epoch)

	if got := f.pipeline.Session().Signs(); len(got) != 1 || got[0] != labels.Unknown {
		t.Errorf("signs = %v, want [%s]", got, labels.Unknown)
	}
}

func TestRunCycle_StopDuringClassify(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	clf := &fakeClassifier{fn: func(int) (*tensor.Tensor, error) {
		close(entered)
		<-release
		return oneHot(0, 3)
	}}
	f := newFixture(t, clf, nil)
	epoch := f.start(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.cycle(epoch)
	}()

	<-entered
	if err := f.pipeline.StopCapture(); err != nil {
		t.Fatalf("StopCapture() error = %v", err)
	}
	close(release)
	<-done

	if n := len(f.pipeline.Session().Signs()); n != 0 {
		t.Errorf("signs = %d, want 0 after stop", n)
	}
	if err := f.pipeline.Session().LastError(); err != nil {
		t.Errorf("LastError() = %v, want nil", err)
	}
}

func TestRunCycle_ReleasesTensors(t *testing.T) {
	clf := &fakeClassifier{fn: func(call int) (*tensor.Tensor, error) {
		if call%2 == 0 {
			return nil, errors.New("odd failure")
		}
		return oneHot(2, 3)
	}}
	f := newFixture(t, clf, nil)
	epoch := f.start(t)

	before := tensor.Live()
	for i := 0; i < 6; i++ {
		f.cycle(epoch)
	}
	if after := tensor.Live(); after != before {
		t.Errorf("live tensors = %d, want %d", after, before)
	}
}

func TestRunCycle_PublishesEvents(t *testing.T) {
	hub := events.NewHub(discardLogger())
	ch, unsubscribe := hub.Subscribe(16)
	defer unsubscribe()

	clf := &fakeClassifier{fn: func(call int) (*tensor.Tensor, error) {
		if call == 2 {
			return nil, errors.New("boom")
		}
		return oneHot(0, 3)
	}}
	f := newFixture(t, clf, func(c *Config) { c.Events = hub })
	epoch := f.start(t)
	f.cycle(epoch)
	f.cycle(epoch)

	var got []events.Type
	for len(got) < 3 {
		select {
		case e := <-ch:
			got = append(got, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v, want 3", got)
		}
	}
	want := []events.Type{events.TypeCaptureStarted, events.TypeSign, events.TypeCycleError}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReset(t *testing.T) {
	speaker := speech.NewMockSpeaker(time.Minute)
	f := newFixture(t, constantClassifier(0), func(c *Config) { c.Speaker = speaker })
	epoch := f.start(t)
	f.cycle(epoch)
	f.pipeline.session.setLastError(errors.New("stale"))
	f.pipeline.session.setTranslation(&Translation{Sentence: "Hello."})

	u, err := speaker.Speak(context.Background(), "Hello.")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	f.pipeline.Reset()

	st := f.pipeline.Status()
	if st.Signs != 0 || st.LastError != "" || st.Translation != nil {
		t.Errorf("status after reset = %+v", st)
	}
	select {
	case <-u.Done():
		if !errors.Is(u.Err(), speech.ErrCanceled) {
			t.Errorf("utterance error = %v, want ErrCanceled", u.Err())
		}
	case <-time.After(time.Second):
		t.Fatal("reset did not cancel speech")
	}
	if !f.pipeline.Session().Capturing() {
		t.Error("reset should not stop capture")
	}
}

func TestTranslate_Fallback(t *testing.T) {
	gen := translate.NewFuncGenerator(func(ctx context.Context, p translate.Prompt) (string, error) {
		return "", errors.New("connection refused")
	})
	f := newFixture(t, constantClassifier(0), func(c *Config) {
		c.Translator = translate.New(gen, translate.Options{}, discardLogger())
	})
	f.pipeline.session.labels.Append("hello")
	f.pipeline.session.labels.Append("you")

	got, err := f.pipeline.Translate(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got.Sentence != "hello you" || !got.Fallback {
		t.Errorf("translation = %+v, want fallback 'hello you'", got)
	}
	if !strings.Contains(got.Warning, "translation unavailable") {
		t.Errorf("warning = %q", got.Warning)
	}
}

func TestTranslate_Empty(t *testing.T) {
	gen := translate.NewFuncGenerator(func(ctx context.Context, p translate.Prompt) (string, error) {
		return "unused", nil
	})
	f := newFixture(t, constantClassifier(0), func(c *Config) {
		c.Translator = translate.New(gen, translate.Options{}, discardLogger())
	})

	got, err := f.pipeline.Translate(context.Background(), "", true)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got.Sentence != "" || got.Fallback {
		t.Errorf("translation = %+v, want empty", got)
	}
	if n := len(gen.Prompts()); n != 0 {
		t.Errorf("generator called %d times", n)
	}
}

func TestTranslate_Busy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gen := translate.NewFuncGenerator(func(ctx context.Context, p translate.Prompt) (string, error) {
		close(entered)
		<-release
		return "Hello there.", nil
	})
	f := newFixture(t, constantClassifier(0), func(c *Config) {
		c.Translator = translate.New(gen, translate.Options{}, discardLogger())
	})
	f.pipeline.session.labels.Append("hello")

	type result struct {
		tr  *Translation
		err error
	}
	first := make(chan result, 1)
	go func() {
		tr, err := f.pipeline.Translate(context.Background(), "", false)
		first <- result{tr, err}
	}()

	<-entered
	if !f.pipeline.Status().Translating {
		t.Error("status should report translating")
	}
	if _, err := f.pipeline.Translate(context.Background(), "", false); !errors.Is(err, ErrTranslationBusy) {
		t.Errorf("second Translate() error = %v, want ErrTranslationBusy", err)
	}
	close(release)

	r := <-first
	if r.err != nil || r.tr.Sentence != "Hello there." {
		t.Errorf("first Translate() = %+v, %v", r.tr, r.err)
	}
	if f.pipeline.Status().Translating {
		t.Error("translating flag not cleared")
	}
}

func TestTranslate_StoresAndSpeaks(t *testing.T) {
	s, err := store.New(t.TempDir() + "/mudra.db")
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	speaker := speech.NewMockSpeaker(5 * time.Millisecond)
	f := newFixture(t, constantClassifier(0), func(c *Config) {
		c.Translator = translate.New(translate.NewMockGenerator(), translate.Options{}, discardLogger())
		c.Store = s
		c.Speaker = speaker
	})
	f.pipeline.session.labels.Append("hello")
	f.pipeline.session.labels.Append("friend")

	got, err := f.pipeline.Translate(context.Background(), "Make a question", true)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got.Fallback || got.Sentence == "" || !got.Spoken || got.TranscriptID == "" {
		t.Fatalf("translation = %+v", got)
	}
	if spoken := speaker.Spoken(); len(spoken) != 1 || spoken[0] != got.Sentence {
		t.Errorf("spoken = %v, want [%s]", spoken, got.Sentence)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := s.Transcripts().Get(got.TranscriptID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rec.Spoken {
			if rec.Instruction != "Make a question" || len(rec.Signs) != 2 {
				t.Errorf("transcript = %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transcript never marked spoken")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if st := f.pipeline.Status(); st.Translation == nil || st.Translation.Sentence != got.Sentence {
		t.Errorf("status translation = %+v", st.Translation)
	}
}

func TestTranslate_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())
	metrics, err := telemetry.NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	gen := translate.NewFuncGenerator(func(ctx context.Context, p translate.Prompt) (string, error) {
		return "", errors.New("offline")
	})
	f := newFixture(t, constantClassifier(0), func(c *Config) {
		c.Translator = translate.New(gen, translate.Options{}, discardLogger())
		c.Metrics = metrics
	})

	// An empty sequence never reaches the backend and is not counted.
	if _, err := f.pipeline.Translate(context.Background(), "", false); err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	f.pipeline.session.labels.Append("hello")
	if _, err := f.pipeline.Translate(context.Background(), "", false); err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "mudra.translations" {
				continue
			}
			found = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("mudra.translations data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if !found || total != 1 {
		t.Errorf("mudra.translations total = %d (found %v), want 1", total, found)
	}
}
