package domain

import "time"

// Session is a device-scoped authentication context with at most one valid token at a time.
type Session struct {
	ID       string
	OrgID    string
	DeviceID string
	// TokenHash is the SHA-256 hex of the current session token; empty until issued and after revocation.
	TokenHash      string
	HandshakeHash  string
	Active         bool
	ExpiresAt      time.Time
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Usable reports whether the session is active and not yet expired at now.
func (s *Session) Usable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
