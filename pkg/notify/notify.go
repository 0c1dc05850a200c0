// Package notify delivers match results to sinks.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// ErrStdout wraps a failed write to standard output. Callers treat it as fatal.
var ErrStdout = errors.New("stdout write failed")

// Notifier delivers one match result. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Deliver(ctx context.Context, result types.MatchResult) error
}

// Named is implemented by sinks that report a name for logs and metrics.
type Named interface {
	Name() string
}

// NameOf returns the sink name of n, or its Go type when it has none.
func NameOf(n Notifier) string {
	if named, ok := n.(Named); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", n)
}

// DeliveryError reports a webhook delivery that did not succeed.
type DeliveryError struct {
	Sink       string
	Domain     string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: delivery for %s failed: status %d", e.Sink, e.Domain, e.StatusCode)
	}
	return fmt.Sprintf("%s: delivery for %s failed: %v", e.Sink, e.Domain, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Multi fans a result out to every sink. Each sink runs even when an earlier
// one fails; failures are joined.
type Multi []Notifier

// Deliver implements Notifier.
func (m Multi) Deliver(ctx context.Context, result types.MatchResult) error {
	var errs []error
	for _, n := range m {
		if err := n.Deliver(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observer is called after every sink delivery with its outcome.
type Observer func(sink string, err error)

// Observed wraps n so that every delivery is reported to observe.
func Observed(n Notifier, observe Observer) Notifier {
	if observe == nil {
		return n
	}
	return &observed{Notifier: n, name: NameOf(n), observe: observe}
}

type observed struct {
	Notifier
	name    string
	observe Observer
}

func (o *observed) Deliver(ctx context.Context, result types.MatchResult) error {
	err := o.Notifier.Deliver(ctx, result)
	o.observe(o.name, err)
	return err
}

func (o *observed) Name() string {
	return o.name
}
