package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces consecutive operations. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter allows one operation per delay. The first Wait returns
// immediately; a delay of zero or less never waits.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
