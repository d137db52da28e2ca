// Package origin decides whether a browser origin may act for an organization.
// Whitelist matching is expressed as a Rego policy evaluated in-process by OPA.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	orgdomain "telemetry-ingest/backend/internal/organization/domain"
)

// ErrNoOrigin is returned when neither Origin nor Referer carries a usable host.
var ErrNoOrigin = errors.New("origin: no origin or referer host")

const allowQuery = "data.ingest.origin.allow"

// An entry "*.example.com" admits any subdomain of example.com but not example.com itself.
const regoPolicy = `package ingest.origin

default allow := false

allow if {
	some d in input.allowed_domains
	input.host == d
}

allow if {
	some d in input.allowed_domains
	startswith(d, "*.")
	endswith(input.host, substring(d, 1, -1))
}
`

// Evaluator reports whether host is admitted by an organization's whitelist.
type Evaluator interface {
	Allowed(ctx context.Context, host string, domains []string) (bool, error)
}

// Policy is the OPA-backed Evaluator. The query is prepared once and reused across requests.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles the whitelist policy.
func NewPolicy(ctx context.Context) (*Policy, error) {
	pq, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("origin.rego", regoPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile origin policy: %w", err)
	}
	return &Policy{query: pq}, nil
}

// Allowed evaluates the policy for a normalized host against the organization's domains.
func (p *Policy) Allowed(ctx context.Context, host string, domains []string) (bool, error) {
	host = normalizeHost(host)
	if host == "" || len(domains) == 0 {
		return false, nil
	}
	list := make([]interface{}, 0, len(domains))
	for _, d := range domains {
		if n := normalizeHost(d); n != "" {
			list = append(list, n)
		}
	}
	input := map[string]interface{}{
		"host":            host,
		"allowed_domains": list,
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval origin policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates the policy once against a fixed input.
func (p *Policy) HealthCheck(ctx context.Context) error {
	ok, err := p.Allowed(ctx, "a.example.com", []string{"*.example.com"})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("origin policy returned deny for a known-good input")
	}
	return nil
}

// HostFromHeaders extracts the host from the Origin header, falling back to Referer.
// The result is lowercased and has any port removed.
func HostFromHeaders(originHeader, referer string) (string, error) {
	for _, raw := range []string{originHeader, referer} {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "null" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		if h := normalizeHost(u.Host); h != "" {
			return h, nil
		}
	}
	return "", ErrNoOrigin
}

func normalizeHost(h string) string {
	h = orgdomain.NormalizeDomain(h)
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.Trim(h, "[]")
}
