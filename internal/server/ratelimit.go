package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"holectl/internal/metrics"
)

// rateLimiter is a token bucket shielding the appliance from alert storms.
type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
	now    func() time.Time
}

func newRateLimiter(burst int, perMinute float64) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		tokens: float64(burst),
		max:    float64(burst),
		rate:   perMinute / 60.0,
		last:   time.Now(),
		now:    time.Now,
	}
}

// allow takes one token. When the bucket is empty it reports how long until
// the next token is due.
func (rl *rateLimiter) allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = math.Min(rl.max, rl.tokens+now.Sub(rl.last).Seconds()*rl.rate)
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}
	wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
	return false, wait
}

// rateLimit answers 429 with Retry-After once the bucket is drained.
// perMinute <= 0 disables it.
func rateLimit(perMinute float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if perMinute <= 0 {
			return next
		}
		rl := newRateLimiter(burst, perMinute)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := rl.allow()
			if !ok {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
