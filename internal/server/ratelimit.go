package server

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/heyconcierge/relay/internal/brand"
)

// RateLimiter enforces per-brand and global request rate limits with token
// buckets. A brand with its own rate_limit in the registry gets a bucket of
// that size; everyone else shares the per-brand default.
type RateLimiter struct {
	mu       sync.Mutex
	global   *rate.Limiter
	buckets  map[string]*rate.Limiter
	brands   *brand.Registry
	perBrand rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter from requests-per-minute budgets.
func NewRateLimiter(brands *brand.Registry, globalRPM, perBrandRPM int) *RateLimiter {
	globalBurst := max(globalRPM, 1)
	brandBurst := max(perBrandRPM, 1)
	return &RateLimiter{
		global:   rate.NewLimiter(rate.Limit(float64(globalRPM)/60.0), globalBurst),
		buckets:  make(map[string]*rate.Limiter),
		brands:   brands,
		perBrand: rate.Limit(float64(perBrandRPM) / 60.0),
		burst:    brandBurst,
	}
}

// Allow reports whether a request for the given brand fits both budgets.
func (rl *RateLimiter) Allow(brandKey string) bool {
	if !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	limiter, ok := rl.buckets[brandKey]
	if !ok {
		perBrand, burst := rl.perBrand, rl.burst
		if b, err := rl.brands.Get(brandKey); err == nil && b.RateLimit > 0 {
			perBrand = rate.Limit(float64(b.RateLimit) / 60.0)
			burst = b.RateLimit
		}
		limiter = rate.NewLimiter(perBrand, burst)
		rl.buckets[brandKey] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}
