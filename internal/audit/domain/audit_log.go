package domain

import "time"

// AuditLog is one security-relevant event: handshakes, token revocation, transaction bootstrap and completion.
type AuditLog struct {
	ID        string
	OrgID     string
	SessionID string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
