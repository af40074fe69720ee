package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/quietgrove/gatehouse/pkg/contextkeys"
)

// RealIP determines the client IP for rate-limit keying and security logs.
//
// X-Forwarded-For is attacker-controlled unless it was appended by a proxy
// we operate, so the header is honored only when the direct peer is inside
// a trusted CIDR range. The chain is walked right to left past trusted
// hops; the first untrusted address is the client. With no trusted proxies
// configured, the socket address is always used.
type RealIP struct {
	trusted []*net.IPNet
}

// NewRealIP creates a resolver for the given trusted proxy CIDR ranges
func NewRealIP(cidrs []string) (*RealIP, error) {
	trusted := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", cidr, err)
		}
		trusted = append(trusted, ipnet)
	}
	return &RealIP{trusted: trusted}, nil
}

// ClientIP returns the validated client IP for a request
func (r *RealIP) ClientIP(req *http.Request) string {
	remote := remoteIP(req.RemoteAddr)
	if remote == "" {
		return req.RemoteAddr
	}
	if len(r.trusted) == 0 || !r.isTrusted(remote) {
		return remote
	}

	forwarded := req.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return remote
	}

	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" || net.ParseIP(hop) == nil {
			// Garbage in the chain: stop trusting anything left of it.
			return remote
		}
		if !r.isTrusted(hop) {
			return hop
		}
	}
	// Every hop was one of our proxies; the leftmost is the origin.
	return strings.TrimSpace(hops[0])
}

// Middleware stores the validated client IP in the request context
func (r *RealIP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := contextkeys.WithClientIP(req.Context(), r.ClientIP(req))
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *RealIP) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipnet := range r.trusted {
		if ipnet.Contains(parsed) {
			return true
		}
	}
	return false
}

// remoteIP strips the port from a host:port remote address
func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		if net.ParseIP(remoteAddr) != nil {
			return remoteAddr
		}
		return ""
	}
	return host
}
