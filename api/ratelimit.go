package api

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

// RateLimiter throttles API requests per client address.
type RateLimiter struct {
	rate  rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastPrune time.Time
	now       func() time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. A non-positive burst is derived from rps.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(1, int(rps*2))
	}
	return &RateLimiter{
		rate:     rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

// Allow reports whether client may issue a request now.
func (rl *RateLimiter) Allow(client string) bool {
	now := rl.now()
	rl.mu.Lock()
	if now.Sub(rl.lastPrune) > limiterIdle {
		for k, c := range rl.limiters {
			if now.Sub(c.seen) > limiterIdle {
				delete(rl.limiters, k)
			}
		}
		rl.lastPrune = now
	}
	c, ok := rl.limiters[client]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[client] = c
	}
	c.seen = now
	rl.mu.Unlock()
	return c.lim.AllowN(now, 1)
}

// Clients returns the number of tracked client addresses.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware answers 429 once a client exceeds its budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddr(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
