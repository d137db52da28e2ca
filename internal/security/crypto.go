package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strconv"
	"time"
)

const (
	// SessionTokenBytes is the amount of randomness in a session token (256 bits).
	SessionTokenBytes = 32
	// BatchIDBytes is the amount of randomness in a server-generated batch id (128 bits).
	BatchIDBytes = 16
	// DefaultReplayWindow is the tolerance used by VerifyTimestampedHash when no window is given.
	DefaultReplayWindow = 30 * time.Second
)

// CryptoService derives and verifies handshake digests and mints random tokens.
// The zero value is not usable; construct with NewCryptoService.
type CryptoService struct {
	random io.Reader
	nowF   func() time.Time
}

// NewCryptoService returns a CryptoService backed by crypto/rand and the wall clock.
func NewCryptoService() *CryptoService {
	return &CryptoService{
		random: rand.Reader,
		nowF:   time.Now,
	}
}

// DeriveHandshakeHash returns hex(sha256(orgID || transactionID || sessionID || deviceID)).
// The four identifiers are concatenated in exactly this order with no separators; clients
// compute the same digest independently, so the layout must never change.
func (c *CryptoService) DeriveHandshakeHash(orgID, transactionID, sessionID, deviceID string) string {
	h := sha256.New()
	h.Write([]byte(orgID))
	h.Write([]byte(transactionID))
	h.Write([]byte(sessionID))
	h.Write([]byte(deviceID))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHandshakeHash recomputes the handshake digest and compares it with candidate in constant time.
func (c *CryptoService) VerifyHandshakeHash(candidate, orgID, transactionID, sessionID, deviceID string) bool {
	if candidate == "" {
		return false
	}
	expected := c.DeriveHandshakeHash(orgID, transactionID, sessionID, deviceID)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

// NewSessionToken returns 256 bits of secure randomness as 64 lowercase hex characters.
func (c *CryptoService) NewSessionToken() (string, error) {
	return c.randomHex(SessionTokenBytes)
}

// NewBatchID returns 128 bits of secure randomness as 32 lowercase hex characters.
func (c *CryptoService) NewBatchID() (string, error) {
	return c.randomHex(BatchIDBytes)
}

func (c *CryptoService) randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.random, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsWellFormedToken reports whether token is exactly 64 lowercase hex characters.
func IsWellFormedToken(token string) bool {
	if len(token) != SessionTokenBytes*2 {
		return false
	}
	for i := 0; i < len(token); i++ {
		ch := token[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

// TimestampedHash returns hex(sha256(data || decimal(timestampMs))).
func (c *CryptoService) TimestampedHash(data string, timestampMs int64) string {
	sum := sha256.Sum256([]byte(data + strconv.FormatInt(timestampMs, 10)))
	return hex.EncodeToString(sum[:])
}

// VerifyTimestampedHash reports whether candidate is the timestamped digest of data and
// timestampMs lies within window of the current time. A non-positive window uses DefaultReplayWindow.
func (c *CryptoService) VerifyTimestampedHash(candidate, data string, timestampMs int64, window time.Duration) bool {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	skew := c.nowF().UnixMilli() - timestampMs
	if skew < 0 {
		skew = -skew
	}
	if skew > window.Milliseconds() {
		return false
	}
	expected := c.TimestampedHash(data, timestampMs)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}
