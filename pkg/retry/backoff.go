// Package retry provides a bounded exponential backoff policy expressed as a
// pure function of the attempt count, plus a small runner for retryable
// operations such as storage writes.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	Base      time.Duration // delay before the first retry
	Max       time.Duration // upper bound on any single delay
	MaxJitter time.Duration // random jitter added to each delay (0 disables)
}

// DefaultPolicy returns the schedule used for storage retries.
func DefaultPolicy() Policy {
	return Policy{
		Base:      200 * time.Millisecond,
		Max:       5 * time.Second,
		MaxJitter: 100 * time.Millisecond,
	}
}

// Delay returns the delay before retry attempt n (n starts at 0).
// Pure with respect to n except for jitter: base * 2^n, capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}

	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.MaxJitter)))
	}
	return d
}

// Do runs fn up to attempts times, sleeping per the policy between failures.
// The last error is returned if all attempts fail. Cancellation of ctx stops
// the schedule immediately.
func Do(ctx context.Context, p Policy, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(i)):
		}
	}
	return err
}
