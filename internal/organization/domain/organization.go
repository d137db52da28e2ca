package domain

import (
	"errors"
	"strings"
	"time"
)

// Org is a tenant that owns sessions, transactions and events. Created out-of-band by orgctl.
type Org struct {
	ID   string
	Name string
	// APIKeyHash is the bcrypt hash of the secret half of the organization API key.
	APIKeyHash     string
	AllowedDomains []string
	CreatedAt      time.Time
}

// Validate validates the organization for persistence. Returns an error describing the first validation failure.
func (o *Org) Validate() error {
	if o.ID == "" {
		return errors.New("id is required")
	}
	if strings.Contains(o.ID, ".") {
		return errors.New("id must not contain '.'")
	}
	if o.Name == "" {
		return errors.New("name is required")
	}
	for _, d := range o.AllowedDomains {
		if NormalizeDomain(d) == "" {
			return errors.New("allowed domains must not be empty")
		}
	}
	return nil
}

// NormalizeDomain lowercases a whitelist entry and strips surrounding whitespace and a trailing dot.
func NormalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

// NormalizeDomains normalizes and de-duplicates entries, preserving first-seen order.
func NormalizeDomains(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		n := NormalizeDomain(d)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
