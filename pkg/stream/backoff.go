package stream

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential reconnect delays with jitter.
// It is not safe for concurrent use.
type Backoff struct {
	Initial    time.Duration // first delay
	Max        time.Duration // cap applied before jitter
	Multiplier float64
	Jitter     float64 // fraction of the delay added or removed at random, 0 to 1

	attempt int
	random  func() float64 // returns [0,1); nil uses math/rand/v2
}

// DefaultBackoff returns 1s doubling up to 60s with 25% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.base(b.attempt)
	b.attempt++

	if b.Jitter <= 0 {
		return delay
	}
	random := b.random
	if random == nil {
		random = rand.Float64
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	// Scale to [1-jitter, 1+jitter).
	factor := 1 + jitter*(2*random()-1)
	return time.Duration(float64(delay) * factor)
}

func (b *Backoff) base(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	limit := b.Max
	if limit < initial {
		limit = initial
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(initial)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if delay >= float64(limit) {
			return limit
		}
	}
	return time.Duration(delay)
}

func (b *Backoff) isZero() bool {
	return b.Initial == 0 && b.Max == 0 && b.Multiplier == 0 && b.Jitter == 0
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
