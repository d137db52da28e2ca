package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrMalformedAPIKey is returned when an API key is not of the form <orgID>.<secret>.
var ErrMalformedAPIKey = errors.New("malformed api key")

const apiKeySecretBytes = 32

// Hasher hashes and verifies organization API key secrets using bcrypt. Callers must not
// log or persist plaintext secrets.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's valid range.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of secret suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash. Returns nil on match.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}

// NewAPIKey mints an API key for orgID and returns the key (shown to the operator once)
// together with the bcrypt hash of its secret part.
func (h *Hasher) NewAPIKey(orgID string) (apiKey, secretHash string, err error) {
	b := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	secret := hex.EncodeToString(b)
	secretHash, err = h.Hash([]byte(secret))
	if err != nil {
		return "", "", err
	}
	return orgID + "." + secret, secretHash, nil
}

// SplitAPIKey splits an API key into its organization id and secret. The secret never
// contains a dot, so the last dot separates the two parts.
func SplitAPIKey(apiKey string) (orgID, secret string, err error) {
	apiKey = strings.TrimSpace(apiKey)
	i := strings.LastIndex(apiKey, ".")
	if i <= 0 || i == len(apiKey)-1 {
		return "", "", ErrMalformedAPIKey
	}
	return apiKey[:i], apiKey[i+1:], nil
}
