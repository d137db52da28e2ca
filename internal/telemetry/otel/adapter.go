package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"telemetry-ingest/backend/internal/telemetry"
)

const instrumentationName = "telemetry-ingest/batches"

// recordEmitter is the subset of otellog.Logger the emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends batch records as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger wraps any record sink, such as an otellog.Logger.
func NewEventEmitterWithLogger(l recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: l}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.BatchRecord) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit maps the record to an OTel log record: ids become attributes, per-type counts become the JSON body.
func (e *otelEmitter) Emit(ctx context.Context, rec *telemetry.BatchRecord) error {
	if rec == nil {
		return nil
	}
	var r otellog.Record
	ts := rec.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	r.SetTimestamp(ts)
	r.SetSeverity(otellog.SeverityInfo)
	if len(rec.EventsByType) > 0 {
		if body, err := json.Marshal(rec.EventsByType); err == nil {
			r.SetBody(otellog.BytesValue(body))
		}
	}
	for _, kv := range []struct{ k, v string }{
		{"org_id", rec.OrgID},
		{"session_id", rec.SessionID},
		{"transaction_id", rec.TransactionID},
		{"device_id", rec.DeviceID},
		{"batch_id", rec.BatchID},
	} {
		if kv.v != "" {
			r.AddAttributes(otellog.String(kv.k, kv.v))
		}
	}
	r.AddAttributes(otellog.Int("events_processed", rec.EventsProcessed))
	e.logger.Emit(ctx, r)
	return nil
}
