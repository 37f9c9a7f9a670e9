package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pwannenmacher/MetaRate/internal/config"
)

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	enabled  bool
	interval time.Duration
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	mu       sync.Mutex
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows cfg.Requests per cfg.Duration per IP, refilled evenly.
// Stale visitors are pruned until ctx is done.
func NewRateLimiter(ctx context.Context, cfg *config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		enabled:  cfg.Enabled && cfg.Requests > 0 && cfg.Duration > 0,
		burst:    cfg.Requests,
		idle:     3 * cfg.Duration,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
	if rl.enabled {
		rl.interval = cfg.Duration / time.Duration(cfg.Requests)
		go rl.cleanupVisitors(ctx)
	}

	return rl
}

// getVisitor returns the limiter for ip, creating it if necessary
func (rl *RateLimiter) getVisitor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(rl.interval), rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// allow takes one token for ip
func (rl *RateLimiter) allow(ip string) bool {
	now := rl.now()
	return rl.getVisitor(ip, now).AllowN(now, 1)
}

// retryAfter is the time for one token to refill, in whole seconds
func (rl *RateLimiter) retryAfter() string {
	secs := int(math.Ceil(rl.interval.Seconds()))
	return strconv.Itoa(max(1, secs))
}

// Limit rate limits requests based on IP address
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled || rl.allow(getIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", rl.retryAfter())
		respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	})
}

// cleanupVisitors removes old visitors from the map
func (rl *RateLimiter) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rl.prune()
	}
}

func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, ip)
		}
	}
}

// getIP gets the client IP address from the request
func getIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
