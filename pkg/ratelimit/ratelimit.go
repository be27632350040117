package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by client IP
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket // per-IP buckets
	max     int                // requests per window
	per     time.Duration      // window size
	now     func() time.Time
	swept   time.Time
}

type bucket struct {
	ts     time.Time // window start
	tokens int       // remaining requests
}

// New creates a new IP-based limiter allowing max requests per window
func New(max int, per time.Duration) *Limiter {
	return &Limiter{buckets: map[string]*bucket{}, max: max, per: per, now: time.Now}
}

// Allow takes one request from key's window; the duration is the wait until
// the window resets when the request is refused
func (r *Limiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)
	b := r.buckets[key]
	if b == nil || now.Sub(b.ts) >= r.per {
		b = &bucket{ts: now, tokens: r.max}
		r.buckets[key] = b
	}
	if b.tokens <= 0 {
		return false, b.ts.Add(r.per).Sub(now)
	}
	b.tokens--
	return true, 0
}

// drop expired windows at most once per window
func (r *Limiter) sweep(now time.Time) {
	if now.Sub(r.swept) < r.per {
		return
	}
	for k, b := range r.buckets {
		if now.Sub(b.ts) >= r.per {
			delete(r.buckets, k)
		}
	}
	r.swept = now
}

// Middleware enforces the rate limit before calling the next handler
func (r *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ok, wait := r.Allow(clientIP(req))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)+1))
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientIP(req *http.Request) string {
	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return ip
}
