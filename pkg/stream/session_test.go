package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/praetorian-inc/certwatch/pkg/notify"
	"github.com/praetorian-inc/certwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ProcessesAllMessages(t *testing.T) {
	sink := &collector{}
	p := &Pipeline{Patterns: compileLines(t, `evil\.com$`), Notifier: sink, Logger: discardLogger()}

	tr := newFakeTransport(8)
	tr.msgs <- certMessage(t, "a.evil.com", "safe.org")
	tr.msgs <- heartbeat
	tr.msgs <- []byte("not json")
	tr.msgs <- certMessage(t, "b.evil.com")
	close(tr.msgs)

	err := NewSession(p, 2).Run(context.Background(), tr)
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, tr.isClosed())
	assert.ElementsMatch(t, []string{"a.evil.com", "b.evil.com"}, sink.domains())
}

// gatedSink blocks every delivery until release is closed and tracks the
// number of deliveries running at once.
type gatedSink struct {
	release   chan struct{}
	current   atomic.Int32
	peak      atomic.Int32
	delivered atomic.Int32
}

func (g *gatedSink) Deliver(_ context.Context, _ types.MatchResult) error {
	n := g.current.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-g.release
	g.current.Add(-1)
	g.delivered.Add(1)
	return nil
}

func TestSession_ConcurrencyBound(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	p := &Pipeline{Patterns: compileLines(t, "match"), Notifier: sink, Logger: discardLogger()}

	const messages = 20
	tr := newFakeTransport(messages)
	for i := 0; i < messages; i++ {
		tr.msgs <- certMessage(t, fmt.Sprintf("match%d.com", i))
	}
	close(tr.msgs)

	done := make(chan error, 1)
	go func() { done <- NewSession(p, 3).Run(context.Background(), tr) }()

	require.Eventually(t, func() bool { return sink.current.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), sink.current.Load(), "no more than the permit count run at once")

	close(sink.release)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Equal(t, int32(messages), sink.delivered.Load())
	assert.LessOrEqual(t, sink.peak.Load(), int32(3))
}

func TestSession_Unbounded(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	p := &Pipeline{Patterns: compileLines(t, "match"), Notifier: sink, Logger: discardLogger()}

	const messages = 10
	tr := newFakeTransport(messages)
	for i := 0; i < messages; i++ {
		tr.msgs <- certMessage(t, "match.com")
	}
	close(tr.msgs)

	s := NewSession(p, -1)
	assert.Equal(t, 0, s.Limit())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), tr) }()

	require.Eventually(t, func() bool { return sink.current.Load() == messages }, time.Second, time.Millisecond)
	close(sink.release)
	<-done
	assert.Equal(t, int32(messages), sink.delivered.Load())
}

func TestSession_DefaultConcurrency(t *testing.T) {
	s := NewSession(&Pipeline{}, 0)
	assert.Positive(t, s.Limit())
}

func TestSession_WaitsForInFlightOnCancel(t *testing.T) {
	sink := &gatedSink{release: make(chan struct{})}
	p := &Pipeline{Patterns: compileLines(t, "match"), Notifier: sink, Logger: discardLogger()}

	tr := newFakeTransport(1)
	tr.msgs <- certMessage(t, "match.com")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSession(p, 4).Run(ctx, tr) }()

	require.Eventually(t, func() bool { return sink.current.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a unit was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), sink.delivered.Load())
	assert.True(t, tr.isClosed())
}

func TestSession_StdoutFailureIsFatal(t *testing.T) {
	sink := &collector{err: fmt.Errorf("%w: broken pipe", notify.ErrStdout)}
	p := &Pipeline{Patterns: compileLines(t, "match"), Notifier: sink, Logger: discardLogger()}

	// The transport stays open; only the output failure ends the session.
	tr := newFakeTransport(1)
	tr.msgs <- certMessage(t, "match.com")

	err := NewSession(p, 1).Run(context.Background(), tr)
	assert.ErrorIs(t, err, notify.ErrStdout)
	assert.True(t, tr.isClosed())
}

func TestSession_DeliveryErrorIsNotFatal(t *testing.T) {
	sink := &collector{err: &notify.DeliveryError{Sink: "webhook", Domain: "match.com", StatusCode: 500}}
	p := &Pipeline{Patterns: compileLines(t, "match"), Notifier: sink, Logger: discardLogger()}

	tr := newFakeTransport(2)
	tr.msgs <- certMessage(t, "match.com")
	tr.msgs <- certMessage(t, "match.org")
	close(tr.msgs)

	err := NewSession(p, 1).Run(context.Background(), tr)
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Len(t, sink.snapshot(), 2)
}

func TestSession_SingleUse(t *testing.T) {
	p := &Pipeline{Patterns: compileLines(t, "x"), Notifier: &collector{}, Logger: discardLogger()}
	s := NewSession(p, 1)

	tr := newFakeTransport(0)
	close(tr.msgs)
	require.ErrorIs(t, s.Run(context.Background(), tr), ErrTransportClosed)

	err := s.Run(context.Background(), newFakeTransport(0))
	assert.True(t, errors.Is(err, ErrSessionReused))
}
