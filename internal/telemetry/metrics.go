package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Cycle outcomes.
const (
	OutcomeSign   = "sign"
	OutcomeNoHand = "no_hand"
	OutcomeError  = "error"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	cycles         metric.Int64Counter
	cycleDuration  metric.Float64Histogram
	signs          metric.Int64Counter
	sessions       metric.Int64UpDownCounter
	translations   metric.Int64Counter
	translationDur metric.Float64Histogram
	modelLoads     metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.cycles, err = meter.Int64Counter("mudra.inference.cycles",
		metric.WithDescription("Inference cycles by outcome")); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = meter.Float64Histogram("mudra.inference.cycle.duration",
		metric.WithDescription("Time spent in one inference cycle"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.signs, err = meter.Int64Counter("mudra.signs.recognized",
		metric.WithDescription("Labels appended to a sequence")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64UpDownCounter("mudra.capture.sessions.active",
		metric.WithDescription("Capture sessions currently running")); err != nil {
		return nil, err
	}
	if m.translations, err = meter.Int64Counter("mudra.translations",
		metric.WithDescription("Translations by result")); err != nil {
		return nil, err
	}
	if m.translationDur, err = meter.Float64Histogram("mudra.translation.duration",
		metric.WithDescription("Time spent generating a sentence"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.modelLoads, err = meter.Int64Counter("mudra.model.loads",
		metric.WithDescription("Classifier loads by strategy and result")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *Metrics) RecordCycle(ctx context.Context, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordSign(ctx context.Context, label string) {
	if m == nil {
		return
	}
	m.signs.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *Metrics) SessionStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
}

func (m *Metrics) RecordTranslation(ctx context.Context, d time.Duration, fallback bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("fallback", fallback))
	m.translations.Add(ctx, 1, attrs)
	m.translationDur.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordModelLoad(ctx context.Context, strategy string, ok bool) {
	if m == nil {
		return
	}
	m.modelLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("ok", ok),
	))
}
