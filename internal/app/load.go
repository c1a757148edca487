package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/labels"
	"github.com/ayusman/mudra/internal/model"
)

// Loading strategies.
const (
	StrategyExplicitShape = "explicit-shape"
	StrategyAdapter       = "adapter"
)

// starter is implemented by extractors that warm up ahead of the first frame.
type starter interface {
	Start(ctx context.Context) error
}

// Load loads the landmark extractor and the classifier concurrently. While it
// runs the matching LoadingState flags are set and capture is rejected. The
// returned error wraps ErrAssetLoad or model.ErrShapeAdaptation and stays
// visible through AssetError until the next successful load. Reloading is
// refused while a session is capturing.
func (p *Pipeline) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.loading.Busy() {
		p.mu.Unlock()
		return ErrAssetsLoading
	}
	if p.session.Capturing() {
		p.mu.Unlock()
		return ErrSessionActive
	}
	p.loading = LoadingState{Extractor: true, Classifier: true}
	p.mu.Unlock()

	var (
		wg     sync.WaitGroup
		extErr error
		clfErr error
		clf    *model.Sequential
		table  *labels.Table
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		extErr = p.loadExtractor(ctx)
		p.mu.Lock()
		p.loading.Extractor = false
		p.mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		clf, table, clfErr = p.loadClassifier(ctx)
		p.mu.Lock()
		p.loading.Classifier = false
		p.mu.Unlock()
	}()
	wg.Wait()

	err := errors.Join(extErr, clfErr)
	p.mu.Lock()
	p.assetErr = err
	if clfErr == nil {
		p.classifier = clf
		p.labels = table
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("asset loading failed", slog.String("error", err.Error()))
		p.publish(events.TypeModelError, "", map[string]string{"error": err.Error()})
		return err
	}
	p.publish(events.TypeModelLoaded, "", map[string]any{
		"labels": table.Labels(),
		"inputs": p.cfg.Model.InputLength,
	})
	return nil
}

func (p *Pipeline) loadExtractor(ctx context.Context) error {
	if p.cfg.Detector == nil {
		return fmt.Errorf("%w: no landmark extractor configured", ErrAssetLoad)
	}
	s, ok := p.cfg.Detector.(starter)
	if !ok {
		return nil
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("%w: start landmark extractor: %w", ErrAssetLoad, err)
	}
	p.logger.Info("landmark extractor ready")
	return nil
}

// loadClassifier tries the explicit-shape strategy first and falls back to
// rebuilding the input layer.
func (p *Pipeline) loadClassifier(ctx context.Context) (*model.Sequential, *labels.Table, error) {
	path := p.cfg.Model.Path
	inputs := p.cfg.Model.InputLength
	if inputs != features.VectorLength {
		return nil, nil, fmt.Errorf("%w: classifier input length %d does not match feature length %d",
			ErrAssetLoad, inputs, features.VectorLength)
	}
	logger := p.logger.With(slog.String("model", path))

	strategy := StrategyExplicitShape
	m, err := model.LoadWithShape(path, []int{inputs})
	if err != nil {
		logger.Warn("explicit input shape unavailable, adapting model",
			slog.String("strategy", StrategyExplicitShape),
			slog.String("error", err.Error()),
		)
		p.metrics().RecordModelLoad(ctx, StrategyExplicitShape, false)

		strategy = StrategyAdapter
		base, lerr := model.Load(path)
		if lerr != nil {
			p.metrics().RecordModelLoad(ctx, StrategyAdapter, false)
			return nil, nil, fmt.Errorf("%w: %w", ErrAssetLoad, lerr)
		}
		if m, err = model.EnsureInputShape(base, []int{inputs}); err != nil {
			p.metrics().RecordModelLoad(ctx, StrategyAdapter, false)
			return nil, nil, err
		}
	}
	p.metrics().RecordModelLoad(ctx, strategy, true)

	table, err := p.loadLabels()
	if err != nil {
		return nil, nil, err
	}
	if units := m.OutputUnits(); units != table.Len() {
		logger.Warn("label table does not match classifier outputs",
			slog.Int("labels", table.Len()),
			slog.Int("outputs", units),
		)
	}

	logger.Info("classifier loaded",
		slog.String("strategy", strategy),
		slog.Int("layers", m.Len()),
		slog.Int("outputs", m.OutputUnits()),
	)
	return m, table, nil
}

func (p *Pipeline) loadLabels() (*labels.Table, error) {
	if p.cfg.Model.LabelsPath == "" {
		return labels.Default(), nil
	}
	table, err := labels.Load(p.cfg.Model.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}
	return table, nil
}
