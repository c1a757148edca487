package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/bus"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/speech"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/telemetry"
	"github.com/ayusman/mudra/internal/translate"
	"github.com/ayusman/mudra/internal/tray"
)

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := telemetry.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	var st *store.Store
	if cfg.Store.Enabled {
		if st, err = store.New(cfg.Store.Path); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		defer st.Close()
		logger.Info("transcript store opened", slog.String("path", st.Path()))
	}

	hub := events.NewHub(logger)
	var busHealth server.HealthChecker
	if cfg.Bus.Enabled {
		client, stopBus, err := connectBus(cfg.Bus, hub, logger)
		if err != nil {
			return err
		}
		defer stopBus()
		busHealth = client
	}

	gen, err := translate.NewGenerator(ctx, cfg.Translator)
	if err != nil {
		return fmt.Errorf("translator: %w", err)
	}
	translator := translate.New(gen, translate.OptionsFromConfig(cfg.Translator), logger)

	var speaker speech.Speaker
	if cfg.Speech.Enabled {
		if speaker, err = speech.New(cfg.Speech, logger); err != nil {
			return fmt.Errorf("speech: %w", err)
		}
	}

	pipeline := app.New(app.Config{
		Model:      cfg.Model,
		Capture:    cfg.Capture,
		Detector:   newDetector(cfg.Detector, logger),
		NewCamera:  capture.NewCamera,
		Translator: translator,
		Speaker:    speaker,
		Store:      st,
		Events:     hub,
		Metrics:    tel.Metrics,
		Logger:     logger,
	})
	defer pipeline.Close()

	// A failed load stays visible through /api/status and can be retried.
	go pipeline.Load(ctx)

	staticDir := cfg.HTTP.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	srv := server.New(server.Config{
		StaticDir: staticDir,
		Store:     st,
		Pipeline:  pipeline,
		Events:    hub,
		Bus:       busHealth,
		Metrics:   tel.Handler,
		Logger:    logger,
	})

	if !cfg.Tray.Enabled {
		return srv.ListenAndServe(ctx, cfg.HTTP.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.HTTP.Addr())
		cancel()
	}()
	runTray(ctx, cancel, pipeline, hub, "http://"+cfg.HTTP.Addr(), logger)
	cancel()
	return <-errCh
}

// newDetector never substitutes the mock for a missing MediaPipe install; the
// failure surfaces as an asset load error in /api/status.
func newDetector(cfg config.DetectorConfig, logger *slog.Logger) detector.Detector {
	det, err := detector.New(cfg.Mode, detector.Config{
		MaxHands:        cfg.MaxHands,
		MinConfidence:   cfg.MinConfidence,
		MinTrackingConf: cfg.MinTrackingConfidence,
		ScriptPath:      cfg.ScriptPath,
		Python:          cfg.Python,
	}, logger)
	if err != nil {
		logger.Error("landmark extractor unavailable", slog.String("mode", cfg.Mode), slog.String("error", err.Error()))
	}
	return det
}

func connectBus(cfg config.BusConfig, hub *events.Hub, logger *slog.Logger) (*bus.Client, func(), error) {
	embedded, err := bus.StartEmbedded(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("bus: %w", err)
	}
	if embedded != nil && len(cfg.Servers) == 0 {
		cfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(cfg, logger)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, fmt.Errorf("bus: %w", err)
	}
	hub.AddSink(client)
	return client, func() {
		client.Close()
		embedded.Shutdown()
	}, nil
}

func runTray(ctx context.Context, cancel context.CancelFunc, p *app.Pipeline, hub *events.Hub, url string, logger *slog.Logger) {
	t := tray.New()
	t.OnToggle(func(capturing bool) error {
		var err error
		if capturing {
			_, err = p.StartCapture(ctx)
		} else {
			err = p.StopCapture()
		}
		if err != nil && !errors.Is(err, app.ErrNotCapturing) {
			logger.Warn("tray toggle failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	t.OnTranslate(func() {
		if _, err := p.Translate(ctx, "", true); err != nil {
			logger.Warn("tray translation failed", slog.String("error", err.Error()))
		}
	})
	t.OnReset(p.Reset)
	t.OnSettings(func() {
		if err := openBrowser(url); err != nil {
			logger.Warn("failed to open browser", slog.String("error", err.Error()))
		}
	})
	t.OnQuit(cancel)

	ch, unsubscribe := hub.Subscribe(32)
	go func() {
		for e := range ch {
			switch e.Type {
			case events.TypeSign:
				if s, ok := e.Data.(app.SignEvent); ok {
					t.SetLastSign(s.Label)
				}
			case events.TypeCaptureStarted:
				t.SetCapturing(true)
			case events.TypeCaptureStopped:
				t.SetCapturing(false)
			case events.TypeReset:
				t.SetLastSign("")
			}
		}
	}()
	go func() {
		<-ctx.Done()
		unsubscribe()
		t.Quit()
	}()

	t.Run()
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.mudra/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".mudra", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
