package service

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"telemetry-ingest/backend/internal/apperr"
	eventdomain "telemetry-ingest/backend/internal/event/domain"
)

// Batch is a structurally valid event batch.
type Batch struct {
	DeviceID       string
	BatchID        string
	BatchTimestamp string
	// Modules maps a module name to its payloads in submission order.
	Modules map[string][]json.RawMessage
}

// ParseBatch validates raw in a fixed order and stops at the first problem: JSON object,
// deviceId, batchId, batchTimestamp, then modules and each of its values.
func ParseBatch(raw []byte) (*Batch, error) {
	if !json.Valid(raw) {
		return nil, apperr.Malformed("body", "is not valid JSON")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, apperr.Malformed("body", "must be a JSON object")
	}
	b := &Batch{}
	var err error
	if b.DeviceID, err = requiredString(fields, "deviceId"); err != nil {
		return nil, err
	}
	if b.BatchID, err = requiredString(fields, "batchId"); err != nil {
		return nil, err
	}
	if b.BatchTimestamp, err = requiredString(fields, "batchTimestamp"); err != nil {
		return nil, err
	}
	var modules map[string]json.RawMessage
	if !isKind(fields["modules"], '{') {
		return nil, apperr.Malformed("modules", "must be an object")
	}
	if err := json.Unmarshal(fields["modules"], &modules); err != nil {
		return nil, apperr.Malformed("modules", "must be an object")
	}
	b.Modules = make(map[string][]json.RawMessage, len(modules))
	for _, name := range sortedKeys(modules) {
		var payloads []json.RawMessage
		if !isKind(modules[name], '[') {
			return nil, apperr.Malformed("modules."+name, "must be an array")
		}
		if err := json.Unmarshal(modules[name], &payloads); err != nil {
			return nil, apperr.Malformed("modules."+name, "must be an array")
		}
		b.Modules[name] = payloads
	}
	return b, nil
}

// Flatten turns the batch into events for one transaction. Modules are taken in name order and
// ordinals run from 0 across the whole batch; every event shares receivedAt.
func (b *Batch) Flatten(orgID, sessionID, transactionID string, receivedAt time.Time) []*eventdomain.Event {
	var events []*eventdomain.Event
	ordinal := 0
	for _, name := range sortedKeys(b.Modules) {
		for _, payload := range b.Modules[name] {
			events = append(events, &eventdomain.Event{
				ID:            eventdomain.EventID(b.BatchID, ordinal),
				TransactionID: transactionID,
				OrgID:         orgID,
				SessionID:     sessionID,
				DeviceID:      b.DeviceID,
				BatchID:       b.BatchID,
				EventType:     name,
				Payload:       payload,
				ReceivedAt:    receivedAt,
			})
			ordinal++
		}
	}
	return events
}

func requiredString(fields map[string]json.RawMessage, name string) (string, error) {
	var s string
	if !isKind(fields[name], '"') || json.Unmarshal(fields[name], &s) != nil || s == "" {
		return "", apperr.Malformed(name, "must be a non-empty string")
	}
	return s, nil
}

// isKind reports whether the JSON value starts with the given delimiter.
func isKind(v json.RawMessage, delim byte) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == delim
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
