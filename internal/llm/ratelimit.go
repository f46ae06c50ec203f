package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultBurst is the token bucket size for provider requests
const DefaultBurst = 2

// newLimiter returns a token bucket limiter; a non-positive rate disables limiting
func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), DefaultBurst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
