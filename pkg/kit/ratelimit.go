package kit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by an arbitrary request
// attribute (client IP, authenticated user).
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	key    func(*http.Request) string
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration, key func(*http.Request) string) *RateLimiter {
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		key:    key,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.limit > 0 && !l.Allow(l.key(r)) {
			w.Header().Set("Retry-After", "60")
			WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow records a hit for k and reports whether it fits in the window.
func (l *RateLimiter) Allow(k string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := prune(l.hits[k], cutoff)
	if len(ts) >= l.limit {
		l.hits[k] = ts
		return false
	}
	l.hits[k] = append(ts, now)
	return true
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			ts[n] = t
			n++
		}
	}
	return ts[:n]
}

func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
