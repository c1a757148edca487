package detector

import (
	"context"
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"
)

// UnavailableDetector stands in for an extractor that could not be built.
// Every call reports the construction error so loading fails visibly.
type UnavailableDetector struct {
	err error
}

// NewUnavailableDetector returns a detector that always fails with err.
func NewUnavailableDetector(err error) *UnavailableDetector {
	return &UnavailableDetector{err: err}
}

// Start reports the construction error.
func (d *UnavailableDetector) Start(ctx context.Context) error {
	return d.err
}

func (d *UnavailableDetector) Detect(ctx context.Context, frame *gocv.Mat) ([]HandLandmarks, error) {
	return nil, d.err
}

func (d *UnavailableDetector) Close() error { return nil }

// New builds the extractor for mode. In mediapipe mode a construction
// failure is returned together with an UnavailableDetector carrying it, so
// callers can keep running and surface the error when assets load.
func New(mode string, cfg Config, log *slog.Logger) (Detector, error) {
	switch mode {
	case "mock":
		return NewMockDetector(), nil
	case "mediapipe", "":
		mp, err := NewMediaPipeDetector(cfg, log)
		if err != nil {
			return NewUnavailableDetector(err), err
		}
		return mp, nil
	default:
		err := fmt.Errorf("unsupported detector mode %q", mode)
		return NewUnavailableDetector(err), err
	}
}
