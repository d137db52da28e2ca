// Package telemetry describes accepted batches to downstream sinks (OTel logs, Kafka, Loki)
// and records the ingest service's own metrics.
package telemetry

import "time"

// BatchRecord summarizes one accepted event batch. It carries counts, never payloads.
type BatchRecord struct {
	OrgID           string         `json:"orgId"`
	SessionID       string         `json:"sessionId"`
	TransactionID   string         `json:"transactionId"`
	DeviceID        string         `json:"deviceId"`
	BatchID         string         `json:"batchId"`
	BatchTimestamp  string         `json:"batchTimestamp"`
	EventsProcessed int            `json:"eventsProcessed"`
	EventsByType    map[string]int `json:"eventsByType"`
	ActivatedTxn    bool           `json:"activatedTransaction"`
	ReceivedAt      time.Time      `json:"receivedAt"`
}
