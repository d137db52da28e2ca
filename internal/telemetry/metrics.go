package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "telemetry-ingest"

// Metrics holds the ingest service's counters. A nil *Metrics records nothing.
type Metrics struct {
	handshakes metric.Int64Counter
	rotations  metric.Int64Counter
	batches    metric.Int64Counter
	events     metric.Int64Counter
	batchSize  metric.Int64Histogram
}

// NewMetrics registers the instruments on provider's meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	m := provider.Meter(meterName)
	var (
		out Metrics
		err error
	)
	if out.handshakes, err = m.Int64Counter("ingest.handshakes",
		metric.WithDescription("Handshake attempts by result code")); err != nil {
		return nil, err
	}
	if out.rotations, err = m.Int64Counter("ingest.token_rotations",
		metric.WithDescription("Session tokens issued or rotated")); err != nil {
		return nil, err
	}
	if out.batches, err = m.Int64Counter("ingest.batches",
		metric.WithDescription("Event batches by result code")); err != nil {
		return nil, err
	}
	if out.events, err = m.Int64Counter("ingest.events",
		metric.WithDescription("Events stored")); err != nil {
		return nil, err
	}
	if out.batchSize, err = m.Int64Histogram("ingest.batch_size",
		metric.WithDescription("Events per accepted batch")); err != nil {
		return nil, err
	}
	return &out, nil
}

// Handshake counts one handshake attempt. result is "ok" or an error code.
func (m *Metrics) Handshake(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.handshakes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// TokenRotated counts one token issuance. reason is "handshake" or "rotate".
func (m *Metrics) TokenRotated(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Batch counts one batch attempt; events is only recorded for accepted batches.
func (m *Metrics) Batch(ctx context.Context, result string, events int) {
	if m == nil {
		return
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if result == "ok" {
		m.events.Add(ctx, int64(events))
		m.batchSize.Record(ctx, int64(events))
	}
}
