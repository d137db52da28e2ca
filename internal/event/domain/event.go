package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event is one flattened entry of an ingested batch. Events are never mutated after insert.
type Event struct {
	ID            string
	TransactionID string
	OrgID         string
	SessionID     string
	DeviceID      string
	BatchID       string
	// EventType is the name of the module the payload was reported under.
	EventType  string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// EventID returns the id of the ordinal-th event of a batch.
func EventID(batchID string, ordinal int) string {
	return batchID + "-" + strconv.Itoa(ordinal)
}

// Stats summarizes the events stored for one transaction.
type Stats struct {
	TotalEvents  int
	EventsByType map[string]int
	// LastEventAt is nil when the transaction has no events.
	LastEventAt *time.Time
}
