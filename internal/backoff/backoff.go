// Package backoff provides the exponential schedule used for broker and store
// connect/reconnect attempts.
package backoff

import (
	"context"
	"time"
)

// Schedule is an exponential backoff: Delay(1) == Initial, each subsequent
// attempt doubles (Factor) up to Max.
type Schedule struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// Delay returns the delay associated with the given 1-based attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := s.Factor
	if factor <= 1 {
		factor = 2
	}
	d := s.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
		if d >= s.Max {
			return s.Max
		}
	}
	if d > s.Max {
		return s.Max
	}
	return d
}

// Sleep waits for the attempt's delay or until ctx is done.
func (s Schedule) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(s.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
