package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praetorian-inc/certwatch/pkg/metrics"
	"github.com/praetorian-inc/certwatch/pkg/notify"
)

// ErrTooManyAttempts is returned when MaxAttempts consecutive dials fail.
var ErrTooManyAttempts = errors.New("too many failed connection attempts")

// Supervisor keeps a feed session running: dial, run a session, and dial
// again when the session ends.
//
// Failed dials are retried after Backoff delays. A session that ends after a
// successful dial is followed by an immediate redial and resets the backoff.
type Supervisor struct {
	Dialer      Dialer
	Pipeline    *Pipeline
	Concurrency int // see NewSession

	// MaxAttempts bounds consecutive failed dials. Zero retries forever.
	MaxAttempts int

	// Backoff is the delay policy for failed dials. The zero value selects
	// DefaultBackoff.
	Backoff Backoff

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Run blocks until ctx is cancelled (returning nil), MaxAttempts is
// exceeded (ErrTooManyAttempts), or a session fails fatally
// (notify.ErrStdout).
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "supervisor")

	backoff := s.Backoff
	if backoff.isZero() {
		backoff = DefaultBackoff()
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		t, err := s.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.Metrics.RecordDialFailure()
			if s.MaxAttempts > 0 && failures >= s.MaxAttempts {
				return fmt.Errorf("%w (%d): %w", ErrTooManyAttempts, failures, err)
			}
			delay := backoff.Next()
			log.Warn("connection failed", "error", err, "attempt", failures, "retry_in", delay)
			if sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}

		failures = 0
		backoff.Reset()
		s.Metrics.RecordSession()

		session := NewSession(s.Pipeline, s.Concurrency)
		log.Info("connected", "concurrency", session.Limit())
		err = session.Run(ctx, t)

		if errors.Is(err, notify.ErrStdout) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("connection lost, reconnecting", "error", err)
	}
}
