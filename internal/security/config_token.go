package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidConfigToken is returned when a configuration token is malformed, expired, or not ours.
var ErrInvalidConfigToken = errors.New("invalid configuration token")

// ConfigClaims binds a client configuration to the organization, session, and transaction
// created by the bootstrap step.
type ConfigClaims struct {
	jwt.RegisteredClaims
	OrgID         string `json:"org_id"`
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
}

// ConfigTokenProvider issues and validates HS256 configuration tokens.
type ConfigTokenProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	nowF   func() time.Time
}

// NewConfigTokenProvider returns a provider signing with secret. issuer is set on and required of every token.
func NewConfigTokenProvider(secret, issuer string, ttl time.Duration) *ConfigTokenProvider {
	return &ConfigTokenProvider{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		nowF:   time.Now,
	}
}

// Issue signs a configuration token for the given binding and returns it with its expiry.
func (p *ConfigTokenProvider) Issue(orgID, sessionID, transactionID string) (string, time.Time, error) {
	now := p.nowF().UTC()
	expiresAt := now.Add(p.ttl)
	claims := ConfigClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		OrgID:         orgID,
		SessionID:     sessionID,
		TransactionID: transactionID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate parses the token and checks signature, algorithm, issuer, and expiry.
func (p *ConfigTokenProvider) Validate(tokenString string) (*ConfigClaims, error) {
	claims := &ConfigClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidConfigToken
	}
	if claims.OrgID == "" || claims.SessionID == "" {
		return nil, ErrInvalidConfigToken
	}
	return claims, nil
}
