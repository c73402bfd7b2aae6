package gateway

import (
	"golang.org/x/time/rate"
)

// RateLimiter throttles WebSocket upgrades across all clients.
// Per-client execute_goal pacing is handled by the session registry.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

// NewRateLimiter allows rpm upgrades per minute with the given burst.
// rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		enabled: true,
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.enabled }

// Allow reports whether one more upgrade fits the budget.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		return true
	}
	return r.limiter.Allow()
}
