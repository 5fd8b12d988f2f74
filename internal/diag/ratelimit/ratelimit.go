// Package ratelimit provides per-IP request throttling for the
// diagnostics API.
package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// IPRateLimiter tracks rate limiters for each IP address
type IPRateLimiter struct {
	ips map[string]*rate.Limiter
	mu  sync.RWMutex
	r   rate.Limit
	b   int
}

// NewIPRateLimiter creates a new IP-based rate limiter
func NewIPRateLimiter(requestsPerSec float64, burstSize int) *IPRateLimiter {
	return &IPRateLimiter{
		ips: make(map[string]*rate.Limiter),
		r:   rate.Limit(requestsPerSec),
		b:   burstSize,
	}
}

// getLimiter returns the rate limiter for the provided IP address
func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists := i.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(i.r, i.b)
		i.ips[ip] = limiter
	}

	return limiter
}

// Allow checks if the IP is allowed to make a request
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.getLimiter(ip).Allow()
}

// Middleware creates an HTTP middleware for rate limiting
func Middleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getIP(r)

			if !limiter.Allow(ip) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getIP extracts the IP address from the request. X-Forwarded-For and
// X-Real-IP are client-controlled unless a trusted reverse proxy is
// guaranteed to overwrite them, which this module does not configure;
// trusting them here would let any client pick its own rate-limit
// bucket. RemoteAddr is the TCP peer address and can't be spoofed.
func getIP(r *http.Request) string {
	return r.RemoteAddr
}
