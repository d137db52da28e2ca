package middleware

import (
	"context"
	"net"
	"net/http"

	authdomain "telemetry-ingest/backend/internal/auth/domain"
	orgdomain "telemetry-ingest/backend/internal/organization/domain"
)

type contextKey struct{ name string }

var (
	orgKey    = contextKey{"org"}
	callerKey = contextKey{"caller"}
	ipKey     = contextKey{"client_ip"}
)

// WithOrg returns a context carrying the organization admitted by the origin gate or API key guard.
func WithOrg(ctx context.Context, org *orgdomain.Org) context.Context {
	return context.WithValue(ctx, orgKey, org)
}

// OrgFrom returns the organization set by WithOrg, or nil.
func OrgFrom(ctx context.Context) *orgdomain.Org {
	org, _ := ctx.Value(orgKey).(*orgdomain.Org)
	return org
}

// WithCaller returns a context carrying the caller resolved by the token guard.
func WithCaller(ctx context.Context, c *authdomain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller set by WithCaller and true if set; otherwise nil, false.
func CallerFrom(ctx context.Context) (*authdomain.Caller, bool) {
	c, ok := ctx.Value(callerKey).(*authdomain.Caller)
	return c, ok && c != nil
}

// ClientIP stores the request's remote host in the context for ClientIPFrom. Run it after chi's RealIP.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ipKey, ip)))
	})
}

// ClientIPFrom returns the address stored by ClientIP, or "". It satisfies audit.IPExtractor.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey).(string)
	return ip
}
