package middleware

import (
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harliandi/go-imgfit/pkg/metrics"
)

// ConcurrencyLimit rejects requests with 503 once max are in flight.
// Compression holds a decoded surface per request, so this bounds memory.
// A max of zero or less disables the limit.
func ConcurrencyLimit(max int) func(http.Handler) http.Handler {
	if max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	slots := make(chan struct{}, max)
	var active atomic.Int32

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
			default:
				log.Printf("[%s] Concurrency limit reached: %d", RequestID(r.Context()), max)
				metrics.RecordConcurrencyLimitExceeded()
				w.Header().Set("Retry-After", "1")
				WriteError(w, r, http.StatusServiceUnavailable, "Service busy, please try again", "")
				return
			}
			metrics.UpdateConcurrency(int(active.Add(1)))
			defer func() {
				metrics.UpdateConcurrency(int(active.Add(-1)))
				<-slots
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter implements token bucket rate limiting per client IP
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // bucket capacity
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// bursts of up to burst.
func NewRateLimiter(rate, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rate),
		burst:   float64(burst),
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

// Allow takes a token for ip. When none is left it returns false and the
// wait until the next token.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[ip] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rl.rate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
}

// Sweep drops buckets idle for longer than the TTL.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for ip, b := range rl.buckets {
		if now.Sub(b.seen) > rl.ttl {
			delete(rl.buckets, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		rl.Sweep()
	}
}

// clientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address without its port.
func clientIP(r *http.Request) string {
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

// ipPrefix coarsens ip for metric labels: /8 for IPv4, /16 for IPv6.
func ipPrefix(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "unknown"
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(8, 32)).String() + "/8"
	}
	return parsed.Mask(net.CIDRMask(16, 128)).String() + "/16"
}

// RateLimit returns middleware that enforces per-client rate limiting
func RateLimit(rate, burst int) func(http.Handler) http.Handler {
	rl := NewRateLimiter(rate, burst)
	go rl.sweepEvery(time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			ok, wait := rl.Allow(ip)
			if !ok {
				log.Printf("[%s] Rate limit exceeded for IP: %s", RequestID(r.Context()), ip)
				metrics.RecordRateLimitExceeded(ipPrefix(ip))
				retry := int(math.Ceil(wait.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				WriteError(w, r, http.StatusTooManyRequests, "Rate limit exceeded", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Security adds response headers suited to an API that returns images and
// JSON only.
func Security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
