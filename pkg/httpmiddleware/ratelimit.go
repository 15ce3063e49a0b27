package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables the
	// limiter.
	Max int
	// Window is the length of one window.
	Window time.Duration
	// MaxKeys bounds the number of tracked clients. The least recently seen
	// client is forgotten first. Defaults to 100000.
	MaxKeys int
	// KeyFunc extracts the client key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// window tracks request counts of two adjacent fixed windows.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	clients *expirable.LRU[string, *window]
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100_000
	}
	return &rateLimiter{
		cfg: cfg,
		now: time.Now,
		// A client idle for two windows has no weight left in the estimate.
		clients: expirable.NewLRU[string, *window](cfg.MaxKeys, nil, 2*cfg.Window),
	}
}

// allow registers a request for key and reports whether it fits the limit.
func (rl *rateLimiter) allow(key string) (remaining int, resetAt time.Time, ok bool) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	win, found := rl.clients.Get(key)
	if !found {
		win = &window{currStart: now.Truncate(rl.cfg.Window)}
	}

	if elapsed := now.Sub(win.currStart); elapsed >= rl.cfg.Window {
		if elapsed >= 2*rl.cfg.Window {
			win.prevCount = 0
		} else {
			win.prevCount = win.currCount
		}
		win.currCount = 0
		win.currStart = now.Truncate(rl.cfg.Window)
	}
	// Re-adding refreshes the entry TTL.
	rl.clients.Add(key, win)

	// Weight the previous window by its overlap with the sliding window.
	overlap := 1 - now.Sub(win.currStart).Seconds()/rl.cfg.Window.Seconds()
	estimate := win.prevCount*math.Max(overlap, 0) + win.currCount
	resetAt = win.currStart.Add(rl.cfg.Window)

	if estimate >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}
	win.currCount++
	return max(int(float64(rl.cfg.Max)-estimate-1), 0), resetAt, true
}

// RateLimit enforces a per-client sliding window limit. Rejected requests
// get 429 with a JSON error body; every response carries the
// X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(cfg)
	return rateLimitMiddleware(rl)
}

func rateLimitMiddleware(rl *rateLimiter) Middleware {
	limit := strconv.Itoa(rl.cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := rl.allow(rl.cfg.KeyFunc(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				retry := max(resetAt.Sub(rl.now()), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
