package internal

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a fixed-window, per-client-IP limiter for the push endpoint.
// Expired windows are swept lazily from allow, so no background goroutine
// has to be stopped.
type RateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*window
	limit         int           // max requests per window
	period        time.Duration // window length
	requestCount  int           // counter for deterministic cleanup
	cleanupEvery  int           // sweep every N requests
	cleanupAtSize int           // sweep when more clients than this are tracked
	now           func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows limit requests per client IP in each period.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		clients:       make(map[string]*window),
		limit:         limit,
		period:        period,
		cleanupEvery:  100,
		cleanupAtSize: 200,
		now:           time.Now,
	}
}

// allow records one request from ip and reports whether it is within the
// limit. When it is not, the time until the window resets is returned.
func (rl *RateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	rl.requestCount++
	if rl.requestCount%rl.cleanupEvery == 0 || len(rl.clients) > rl.cleanupAtSize {
		rl.cleanupExpired(now)
		if rl.requestCount >= rl.cleanupEvery*10 {
			rl.requestCount = 0
		}
	}

	w, ok := rl.clients[ip]
	if !ok || !now.Before(w.resetAt) {
		rl.clients[ip] = &window{count: 1, resetAt: now.Add(rl.period)}
		return true, 0
	}
	if w.count >= rl.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

func (rl *RateLimiter) cleanupExpired(now time.Time) {
	for ip, w := range rl.clients {
		if !now.Before(w.resetAt) {
			delete(rl.clients, ip)
		}
	}
}

// Cleanup removes all expired windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupExpired(rl.now())
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.allow(ClientIP(r))
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, or RemoteAddr without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.HasSuffix(addr, "]") {
		return strings.Trim(addr[:i], "[]")
	}
	return addr
}
