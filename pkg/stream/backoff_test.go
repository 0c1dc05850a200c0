package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = 0

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())
}

func TestBackoff_Reset(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = 0
	b.Next()
	b.Next()
	b.Reset()

	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoff_JitterBounds(t *testing.T) {
	tests := []struct {
		name   string
		random float64
		want   time.Duration
	}{
		{"lowest", 0, 750 * time.Millisecond},
		{"middle", 0.5, time.Second},
		{"highest", 0.999999, 1250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DefaultBackoff()
			b.random = func() float64 { return tt.random }
			assert.InDelta(t, float64(tt.want), float64(b.Next()), float64(time.Millisecond))
		})
	}
}

func TestBackoff_RandomJitterStaysInRange(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 100; i++ {
		b.Reset()
		d := b.Next()
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.Less(t, d, 1250*time.Millisecond)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	var b Backoff
	assert.True(t, b.isZero())
	assert.Equal(t, time.Second, b.Next(), "zero Initial falls back to one second")
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
