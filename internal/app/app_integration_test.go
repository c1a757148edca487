package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/model/modeltest"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tensor"
)

func writeLabels(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "labels.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	return path
}

func loadPipeline(t *testing.T, modelCfg config.ModelConfig, logs *bytes.Buffer) (*Pipeline, *detector.MockDetector, *capture.MockCamera) {
	t.Helper()
	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})
	cam := capture.NewBlankMockCamera()
	p := New(Config{
		Model:     modelCfg,
		Detector:  det,
		NewCamera: func(capture.Config) capture.Camera { return cam },
		Logger:    slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	return p, det, cam
}

func TestPipeline_Load_ExplicitShape(t *testing.T) {
	dir := t.TempDir()
	path := modeltest.Classifier(t, dir, features.VectorLength, 3, true)

	var logs bytes.Buffer
	p, _, _ := loadPipeline(t, config.ModelConfig{
		Path:       path,
		LabelsPath: writeLabels(t, dir, `["hello", "thanks", "yes"]`),
	}, &logs)

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !p.Ready() {
		t.Error("Ready() = false after load")
	}
	if p.Loading().Busy() {
		t.Error("loading flags still set")
	}
	out := logs.String()
	if !strings.Contains(out, `"strategy":"explicit-shape"`) {
		t.Errorf("logs missing explicit-shape strategy: %s", out)
	}
	if strings.Contains(out, `"strategy":"adapter"`) {
		t.Error("adapter should not run when the shape is declared")
	}
	if got := p.labels.Len(); got != 3 {
		t.Errorf("labels = %d, want 3", got)
	}
}

func TestPipeline_Load_Adapter(t *testing.T) {
	dir := t.TempDir()
	path := modeltest.Classifier(t, dir, features.VectorLength, 3, false)

	var logs bytes.Buffer
	p, _, _ := loadPipeline(t, config.ModelConfig{Path: path}, &logs)

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !p.Ready() {
		t.Fatal("Ready() = false after adapted load")
	}
	out := logs.String()
	if !strings.Contains(out, "explicit input shape unavailable") {
		t.Errorf("logs missing explicit-shape warning: %s", out)
	}
	if !strings.Contains(out, `"strategy":"adapter"`) {
		t.Errorf("logs missing adapter strategy: %s", out)
	}

	m, ok := p.classifier.(*model.Sequential)
	if !ok {
		t.Fatalf("classifier is %T", p.classifier)
	}
	shape, ok := m.InputShape()
	if !ok || !shape.Equal(model.BatchShape(features.VectorLength)) {
		t.Errorf("input shape = %v, want [null, 63]", shape)
	}
}

func TestPipeline_Load_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string) config.ModelConfig
	}{
		{
			name: "missing model",
			setup: func(t *testing.T, dir string) config.ModelConfig {
				return config.ModelConfig{Path: filepath.Join(dir, "nope", "model.json")}
			},
		},
		{
			name: "input length mismatch",
			setup: func(t *testing.T, dir string) config.ModelConfig {
				return config.ModelConfig{
					Path:        modeltest.Classifier(t, dir, features.VectorLength, 3, true),
					InputLength: 42,
				}
			},
		},
		{
			name: "bad labels",
			setup: func(t *testing.T, dir string) config.ModelConfig {
				return config.ModelConfig{
					Path:       modeltest.Classifier(t, dir, features.VectorLength, 3, true),
					LabelsPath: writeLabels(t, dir, `[]`),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			p, _, cam := loadPipeline(t, tt.setup(t, t.TempDir()), &logs)

			err := p.Load(context.Background())
			if !errors.Is(err, ErrAssetLoad) {
				t.Fatalf("Load() error = %v, want ErrAssetLoad", err)
			}
			if p.Status().Error == "" || p.Ready() {
				t.Error("load error should stay visible")
			}
			if _, err := p.StartCapture(context.Background()); !errors.Is(err, ErrAssetLoad) {
				t.Errorf("StartCapture() error = %v, want ErrAssetLoad", err)
			}
			if opens, _, _ := cam.Stats(); opens != 0 {
				t.Error("camera opened after a failed load")
			}
		})
	}
}

func TestPipeline_Load_ExtractorUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := modeltest.Classifier(t, dir, features.VectorLength, 3, true)

	hub := events.NewHub(discardLogger())
	ch, unsubscribe := hub.Subscribe(8)
	defer unsubscribe()

	cam := capture.NewBlankMockCamera()
	p := New(Config{
		Model:     config.ModelConfig{Path: path},
		Detector:  detector.NewUnavailableDetector(detector.ErrScriptNotFound),
		NewCamera: func(capture.Config) capture.Camera { return cam },
		Events:    hub,
		Logger:    discardLogger(),
	})

	err := p.Load(context.Background())
	if !errors.Is(err, ErrAssetLoad) || !errors.Is(err, detector.ErrScriptNotFound) {
		t.Fatalf("Load() error = %v, want ErrAssetLoad wrapping ErrScriptNotFound", err)
	}

	st := p.Status()
	if st.Ready {
		t.Error("Ready = true without a landmark extractor")
	}
	if !strings.Contains(st.Error, detector.ErrScriptNotFound.Error()) {
		t.Errorf("status error = %q, want it to name the missing script", st.Error)
	}

	if _, err := p.StartCapture(context.Background()); !errors.Is(err, ErrAssetLoad) {
		t.Errorf("StartCapture() error = %v, want ErrAssetLoad", err)
	}
	if opens, _, _ := cam.Stats(); opens != 0 {
		t.Error("camera opened without a landmark extractor")
	}

	select {
	case e := <-ch:
		if e.Type != events.TypeModelError {
			t.Errorf("event = %s, want %s", e.Type, events.TypeModelError)
		}
	case <-time.After(time.Second):
		t.Error("no model_error event")
	}
}

func TestPipeline_Load_PublishesLabels(t *testing.T) {
	dir := t.TempDir()
	path := modeltest.Classifier(t, dir, features.VectorLength, 3, true)

	hub := events.NewHub(discardLogger())
	ch, unsubscribe := hub.Subscribe(8)
	defer unsubscribe()

	p := New(Config{
		Model: config.ModelConfig{
			Path:       path,
			LabelsPath: writeLabels(t, dir, `["hello", "thanks", "yes"]`),
		},
		Detector: detector.NewMockDetector(),
		Events:   hub,
		Logger:   discardLogger(),
	})
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	select {
	case e := <-ch:
		if e.Type != events.TypeModelLoaded {
			t.Fatalf("event = %s, want %s", e.Type, events.TypeModelLoaded)
		}
		data, ok := e.Data.(map[string]any)
		if !ok {
			t.Fatalf("event data = %T", e.Data)
		}
		got, _ := data["labels"].([]string)
		if strings.Join(got, ",") != "hello,thanks,yes" {
			t.Errorf("labels = %v", data["labels"])
		}
	case <-time.After(time.Second):
		t.Fatal("no model_loaded event")
	}
}

func TestPipeline_Load_ShapeAdaptationError(t *testing.T) {
	dir := t.TempDir()
	// A kernel sized for 10 inputs cannot serve a 63-wide input layer.
	path := modeltest.Write(t, dir,
		modeltest.Dense("dense", "softmax", modeltest.Kernel(10, 3, 1), modeltest.Bias(3, 1)),
	)

	var logs bytes.Buffer
	p, _, _ := loadPipeline(t, config.ModelConfig{Path: path}, &logs)

	err := p.Load(context.Background())
	if !errors.Is(err, model.ErrShapeAdaptation) {
		t.Fatalf("Load() error = %v, want ErrShapeAdaptation", err)
	}
	if p.Ready() {
		t.Error("Ready() = true after failed adaptation")
	}
}

func TestPipeline_Load_LabelMismatchOnlyLogged(t *testing.T) {
	dir := t.TempDir()
	path := modeltest.Classifier(t, dir, features.VectorLength, 3, true)

	var logs bytes.Buffer
	p, _, _ := loadPipeline(t, config.ModelConfig{
		Path:       path,
		LabelsPath: writeLabels(t, dir, `["hello", "thanks"]`),
	}, &logs)

	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.Contains(logs.String(), "label table does not match classifier outputs") {
		t.Error("expected a mismatch warning")
	}
}

func TestPipeline_CaptureLoop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "mudra.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	hub := events.NewHub(discardLogger())
	ch, unsubscribe := hub.Subscribe(256)
	defer unsubscribe()

	det := detector.NewMockDetector()
	det.SetFunc(func(call int) ([]detector.HandLandmarks, error) {
		if call%3 == 0 {
			return nil, nil
		}
		return []detector.HandLandmarks{detector.OpenPalmLandmarks()}, nil
	})
	cam := capture.NewBlankMockCamera()

	p := New(Config{
		Model: config.ModelConfig{
			Path:       modeltest.Classifier(t, dir, features.VectorLength, 3, false),
			LabelsPath: writeLabels(t, dir, `["hello", "thanks", "yes"]`),
		},
		Capture:   config.CaptureConfig{MaxFPS: 200},
		Detector:  det,
		NewCamera: func(capture.Config) capture.Camera { return cam },
		Store:     s,
		Events:    hub,
		Logger:    discardLogger(),
	})
	if err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	before := tensor.Live()
	id, err := p.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	done := p.Session().Done()

	deadline := time.Now().Add(3 * time.Second)
	for len(p.Session().Signs()) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d signs recognized", len(p.Session().Signs()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := p.StopCapture(); err != nil {
		t.Fatalf("StopCapture() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}

	n := len(p.Session().Signs())
	time.Sleep(30 * time.Millisecond)
	if got := len(p.Session().Signs()); got != n {
		t.Errorf("signs grew after stop: %d -> %d", n, got)
	}
	if live := tensor.Live(); live != before {
		t.Errorf("live tensors = %d, want %d", live, before)
	}
	if err := p.Session().LastError(); err != nil {
		t.Errorf("LastError() = %v", err)
	}
	if opens, closes, _ := cam.Stats(); opens != 1 || closes != 1 {
		t.Errorf("camera opens/closes = %d/%d, want 1/1", opens, closes)
	}

	rec, err := s.Sessions().Get(id)
	if err != nil {
		t.Fatalf("Sessions().Get() error = %v", err)
	}
	if rec.SignCount != n || rec.StoppedAt == nil {
		t.Errorf("session record = %+v, want %d signs and a stop time", rec, n)
	}

	var signs int
	for len(ch) > 0 {
		if e := <-ch; e.Type == events.TypeSign {
			signs++
		}
	}
	if signs != n {
		t.Errorf("sign events = %d, want %d", signs, n)
	}
}
