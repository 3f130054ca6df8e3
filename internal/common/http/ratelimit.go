package http

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	"github.com/AlibekovAA/refresh-guard/internal/observability/metrics"
)

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	cleanup  *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	burst := requestsPerMinute / constants.RateLimitBurstDivisor
	if burst < 1 {
		burst = 1
	}

	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:    burst,
		cleanup:  time.NewTicker(constants.RateLimitCleanupInterval),
		done:     make(chan struct{}),
	}

	go rl.cleanupLimiters()

	return rl
}

func (rl *RateLimiter) cleanupLimiters() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.cleanup.C:
			rl.mu.Lock()
			for key, limiter := range rl.limiters {
				if limiter.Tokens() >= float64(rl.burst) {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanup.Stop()
		close(rl.done)
	})
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter, exists = rl.limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rl.rate, rl.burst)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// PathRateLimiter applies a stricter budget to the credential and rotation endpoints.
type PathRateLimiter struct {
	loginLimiter   *RateLimiter
	refreshLimiter *RateLimiter
	generalLimiter *RateLimiter
}

func NewPathRateLimiter() *PathRateLimiter {
	return &PathRateLimiter{
		loginLimiter:   NewRateLimiter(constants.LoginRateLimitPerMinute),
		refreshLimiter: NewRateLimiter(constants.RefreshRateLimitPerMinute),
		generalLimiter: NewRateLimiter(constants.DefaultRateLimitPerMinute),
	}
}

func (prl *PathRateLimiter) Stop() {
	prl.loginLimiter.Stop()
	prl.refreshLimiter.Stop()
	prl.generalLimiter.Stop()
}

func (prl *PathRateLimiter) MiddlewareForPath(path string) func(http.Handler) http.Handler {
	var limiter *RateLimiter
	var limiterType string

	switch path {
	case "/auth/login":
		limiter = prl.loginLimiter
		limiterType = "login"
	case "/auth/refresh":
		limiter = prl.refreshLimiter
		limiterType = "refresh"
	default:
		limiter = prl.generalLimiter
		limiterType = "general"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(GetClientIP(r)) {
				metrics.RateLimitBlocked.WithLabelValues(path, limiterType).Inc()
				w.Header().Set("Retry-After", "60")
				WriteErrorEnvelope(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil, "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
