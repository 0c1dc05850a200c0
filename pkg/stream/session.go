// Package stream consumes a certificate feed connection and keeps it alive.
package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrSessionReused is returned when Run is called twice on one Session.
var ErrSessionReused = errors.New("session already used")

// Session processes the messages of one transport. A Session is single use.
type Session struct {
	pipeline *Pipeline
	sem      *semaphore.Weighted // nil dispatches without a bound
	limit    int64
	used     atomic.Bool

	wg        sync.WaitGroup
	fatalOnce sync.Once
	fatal     error
	cancel    context.CancelFunc
}

// NewSession creates a session. concurrency bounds the number of messages
// processed at once: 0 selects runtime.GOMAXPROCS(0) and a negative value
// spawns one unit per message without a bound.
func NewSession(p *Pipeline, concurrency int) *Session {
	s := &Session{pipeline: p}
	if concurrency == 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	if concurrency > 0 {
		s.limit = int64(concurrency)
		s.sem = semaphore.NewWeighted(s.limit)
	}
	return s
}

// Limit returns the in-flight bound, or 0 when unbounded.
func (s *Session) Limit() int {
	return int(s.limit)
}

// Run reads t until it fails or ctx is cancelled, then waits for every
// in-flight message before returning.
//
// It returns ctx.Err() after cancellation, an error wrapping
// notify.ErrStdout when output broke, and otherwise the read error, which
// always wraps ErrTransportClosed.
func (s *Session) Run(ctx context.Context, t Transport) error {
	if !s.used.CompareAndSwap(false, true) {
		return ErrSessionReused
	}

	readCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	stop := context.AfterFunc(readCtx, func() { _ = t.Close() })
	defer stop()

	// Units outlive the read loop so accepted messages are always delivered.
	unitCtx := context.WithoutCancel(ctx)

	readErr := s.readLoop(readCtx, unitCtx, t)
	s.wg.Wait()
	_ = t.Close()

	if s.fatal != nil {
		return s.fatal
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !errors.Is(readErr, ErrTransportClosed) {
		readErr = fmt.Errorf("%w: %w", ErrTransportClosed, readErr)
	}
	return readErr
}

func (s *Session) readLoop(readCtx, unitCtx context.Context, t Transport) error {
	m := s.pipeline.Metrics
	for {
		raw, err := t.ReadMessage()
		if err != nil {
			return err
		}

		if s.sem != nil {
			if err := s.sem.Acquire(readCtx, 1); err != nil {
				return err
			}
		}

		s.wg.Add(1)
		m.AddInFlight(1)
		go func() {
			defer s.wg.Done()
			defer m.AddInFlight(-1)
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			if err := s.pipeline.Handle(unitCtx, raw); err != nil {
				s.fail(err)
			}
		}()
	}
}

func (s *Session) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatal = err
		s.cancel()
	})
}
