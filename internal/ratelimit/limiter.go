// Package ratelimit throttles callers of the HTTP API itself. It keys on the
// client IP and reuses the admission engine with its own bucket set, so API
// self-protection never touches the buckets the API manages for clients.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Limiter spends one token per request for a caller key. Implementations
// must be safe for concurrent use.
type Limiter interface {
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info is the caller's bucket state after a request, as reported in the
// X-RateLimit-* headers.
type Info struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time     // bucket full again
	RetryAfter time.Duration // set only when denied
}

// KeyFunc derives the throttling key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the originating address. The first
// X-Forwarded-For hop wins, then X-Real-IP, then the connection's peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
