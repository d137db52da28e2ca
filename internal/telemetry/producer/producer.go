// Package producer publishes accepted batch records to a message broker (Kafka).
package producer

import (
	"telemetry-ingest/backend/internal/telemetry"
)

// Producer emits batch records. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes pending writes and releases resources. Safe to call if already closed.
	Close() error
}
