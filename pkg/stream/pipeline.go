package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/praetorian-inc/certwatch/pkg/feed"
	"github.com/praetorian-inc/certwatch/pkg/matcher"
	"github.com/praetorian-inc/certwatch/pkg/metrics"
	"github.com/praetorian-inc/certwatch/pkg/notify"
)

// Pipeline turns one raw feed message into notifications. It holds only
// read-only or concurrency-safe state and is shared by every unit of work.
type Pipeline struct {
	Patterns matcher.PatternMatcher
	Notifier notify.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics // optional
	Now      func() time.Time // optional, defaults to time.Now
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Handle extracts, evaluates and delivers one message. Per-message failures
// are logged and counted. The returned error is non-nil only for failures
// that must stop the process: writes to stdout that did not succeed.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) error {
	log := p.logger()
	p.Metrics.RecordMessage()

	event, err := feed.Extract(raw)
	if err != nil {
		var ee *feed.ExtractError
		kind := "unknown"
		if errors.As(err, &ee) {
			kind = ee.Kind.String()
		}
		p.Metrics.RecordExtractError(kind)
		log.Warn("failed to extract message", "error", err)
		return nil
	}
	if event == nil {
		p.Metrics.RecordSkip()
		return nil
	}

	results, err := matcher.Evaluate(event, p.Patterns)
	if err != nil {
		p.Metrics.RecordEvalError()
		log.Warn("pattern evaluation failed", "error", err)
	}
	if len(results) == 0 {
		return nil
	}
	p.Metrics.RecordMatches(len(results))

	now := p.now()
	var fatal []error
	for _, result := range results {
		result.Time = now
		log.Debug("match", "domain", result.Domain, "patterns", result.Patterns)
		if err := p.Notifier.Deliver(ctx, result); err != nil {
			if errors.Is(err, notify.ErrStdout) {
				fatal = append(fatal, err)
				continue
			}
			log.Warn("delivery failed", "domain", result.Domain, "error", err)
		}
	}
	return errors.Join(fatal...)
}
