package domain

import "time"

// Status is the lifecycle state of a transaction. Transitions only move forward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// MetadataDeviceID is the metadata key bootstrap records the client device under.
const MetadataDeviceID = "deviceId"

// Transaction is one client-initiated flow that a session reports events for.
type Transaction struct {
	ID          string
	SessionID   string
	OrgID       string
	Status      Status
	Metadata    map[string]any
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Open reports whether the transaction can still receive events.
func (t *Transaction) Open() bool {
	return t.Status == StatusPending || t.Status == StatusActive
}

// OwnedBy reports whether the transaction belongs to the given session and organization.
func (t *Transaction) OwnedBy(sessionID, orgID string) bool {
	return t.SessionID == sessionID && t.OrgID == orgID
}

// DeviceID returns the device id recorded at bootstrap, or "".
func (t *Transaction) DeviceID() string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[MetadataDeviceID].(string)
	return s
}
