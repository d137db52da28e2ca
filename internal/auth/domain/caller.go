// Package domain holds the identity of an authenticated caller as resolved by the token guard.
package domain

import "time"

// Caller is the organization/session pair a request was authenticated as.
type Caller struct {
	OrgID     string
	SessionID string
	DeviceID  string
	// Token is the current session token: the presented one, or its replacement if the guard rotated it.
	Token          string
	ExpiresAt      time.Time
	LastActivityAt time.Time
}
