package utils

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter used in front of provider APIs.
type RateLimiter struct {
	tokens       chan struct{}
	refillTicker *time.Ticker
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained with
// a burst of maxBurst.
func NewRateLimiter(requestsPerSecond float64, maxBurst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1.0
	}
	if maxBurst <= 0 {
		maxBurst = 10
	}

	rl := &RateLimiter{
		tokens: make(chan struct{}, maxBurst),
	}
	for i := 0; i < maxBurst; i++ {
		rl.tokens <- struct{}{}
	}

	rl.refillTicker = time.NewTicker(time.Duration(float64(time.Second) / requestsPerSecond))
	go func() {
		for range rl.refillTicker.C {
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		}
	}()
	return rl
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the refill goroutine.
func (rl *RateLimiter) Stop() {
	if rl.refillTicker != nil {
		rl.refillTicker.Stop()
	}
}

var (
	limiterMu sync.Mutex
	limiters  = map[string]*RateLimiter{}
)

// GetRateLimiter returns the shared limiter for a provider, creating it on
// first use.
func GetRateLimiter(provider string) *RateLimiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()

	if rl, ok := limiters[provider]; ok {
		return rl
	}
	var rl *RateLimiter
	switch provider {
	case "openai":
		rl = NewRateLimiter(60.0, 100)
	case "anthropic":
		rl = NewRateLimiter(50.0, 50)
	default:
		rl = NewRateLimiter(10.0, 20)
	}
	limiters[provider] = rl
	return rl
}
