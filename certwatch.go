// Package certwatch watches a certificate-transparency feed for domains
// matching a set of patterns.
//
// # Basic Usage
//
// Check domains against patterns without a feed:
//
//	mon, err := certwatch.NewFromLines([]string{`paypal`, `\.bank\.example$`})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mon.Close()
//
//	results, err := mon.Check("secure-paypal.com", "example.org")
//	for _, r := range results {
//	    fmt.Println(r.Joined())
//	}
//
// # Watching a Feed
//
// Run connects to a certstream server and delivers every match until the
// context is cancelled, reconnecting whenever the connection drops:
//
//	hook, _ := notify.NewWebhook("https://hooks.slack.com/...", notify.WebhookOptions{})
//	mon, err := certwatch.New(patterns,
//	    certwatch.WithURL("wss://certstream.calidog.io/"),
//	    certwatch.WithNotifiers(hook),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mon.Close()
//
//	err = mon.Run(ctx)
package certwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/praetorian-inc/certwatch/pkg/matcher"
	"github.com/praetorian-inc/certwatch/pkg/metrics"
	"github.com/praetorian-inc/certwatch/pkg/notify"
	"github.com/praetorian-inc/certwatch/pkg/stream"
	"github.com/praetorian-inc/certwatch/pkg/types"
)

// Re-export commonly used types for convenience.
type (
	// Pattern is a single detection rule.
	Pattern = types.Pattern

	// MatchResult pairs a domain with every pattern it matched.
	MatchResult = types.MatchResult

	// Notifier receives match results.
	Notifier = notify.Notifier
)

// DefaultURL is the feed a Monitor connects to unless WithURL is given.
const DefaultURL = "ws://127.0.0.1:4000/"

// Monitor matches certificate feed domains against a compiled pattern set.
type Monitor struct {
	set    *matcher.Set
	config *monitorConfig
}

type monitorConfig struct {
	url          string
	dialer       stream.Dialer
	notifiers    []notify.Notifier
	concurrency  int
	maxAttempts  int
	pingInterval time.Duration
	readTimeout  time.Duration
	backoff      stream.Backoff
	matchOpts    []matcher.Option
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Monitor.
type Option func(*monitorConfig)

// WithURL sets the certstream WebSocket URL.
func WithURL(url string) Option {
	return func(c *monitorConfig) {
		c.url = url
	}
}

// WithDialer replaces the WebSocket dialer, e.g. for tests or other transports.
// WithURL and WithKeepalive are ignored when a dialer is set.
func WithDialer(d stream.Dialer) Option {
	return func(c *monitorConfig) {
		c.dialer = d
	}
}

// WithNotifiers sets the sinks that receive matches. Without it, matches are
// printed to stdout in "pattern -> domain" form.
func WithNotifiers(n ...notify.Notifier) Option {
	return func(c *monitorConfig) {
		c.notifiers = append(c.notifiers, n...)
	}
}

// WithConcurrency bounds the number of messages processed at once.
// Zero uses GOMAXPROCS; a negative value removes the bound.
func WithConcurrency(n int) Option {
	return func(c *monitorConfig) {
		c.concurrency = n
	}
}

// WithMaxAttempts gives up after n consecutive failed dials. Zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(c *monitorConfig) {
		c.maxAttempts = n
	}
}

// WithKeepalive sets the ping period and the read timeout. Zero disables either.
func WithKeepalive(ping, readTimeout time.Duration) Option {
	return func(c *monitorConfig) {
		c.pingInterval = ping
		c.readTimeout = readTimeout
	}
}

// WithBackoff sets the delay policy between failed dials.
func WithBackoff(b stream.Backoff) Option {
	return func(c *monitorConfig) {
		c.backoff = b
	}
}

// WithMatcherOptions passes options to matcher.Compile.
func WithMatcherOptions(opts ...matcher.Option) Option {
	return func(c *monitorConfig) {
		c.matchOpts = append(c.matchOpts, opts...)
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *monitorConfig) {
		c.logger = l
	}
}

// WithMetrics records pipeline counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *monitorConfig) {
		c.metrics = m
	}
}

// New compiles patterns and creates a Monitor.
//
// By default, the monitor:
//   - Connects to DefaultURL, pinging every 30s and dropping the connection
//     after 90s without traffic
//   - Processes up to GOMAXPROCS messages at once
//   - Retries failed dials forever with exponential backoff
//   - Prints matches to stdout
func New(patterns []Pattern, opts ...Option) (*Monitor, error) {
	config := &monitorConfig{
		url:          DefaultURL,
		pingInterval: 30 * time.Second,
		readTimeout:  90 * time.Second,
		backoff:      stream.DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.logger == nil {
		config.logger = slog.Default()
	}

	set, err := matcher.Compile(patterns, config.matchOpts...)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}
	config.metrics.SetPatterns(set.Len())

	if len(config.notifiers) == 0 {
		stdout, err := notify.NewStdout(os.Stdout, notify.OutputLines, notify.ColorAuto)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		config.notifiers = []notify.Notifier{stdout}
	}
	if config.dialer == nil {
		config.dialer = &stream.WebSocketDialer{
			URL:          config.url,
			PingInterval: config.pingInterval,
			ReadTimeout:  config.readTimeout,
		}
	}

	return &Monitor{set: set, config: config}, nil
}

// NewFromLines creates a Monitor from one pattern per entry.
func NewFromLines(lines []string, opts ...Option) (*Monitor, error) {
	patterns := make([]Pattern, len(lines))
	for i, line := range lines {
		patterns[i] = Pattern{ID: types.LineID(i + 1), Source: line}
	}
	return New(patterns, opts...)
}

// Check matches domains against the pattern set without delivering anything.
func (m *Monitor) Check(domains ...string) ([]MatchResult, error) {
	return matcher.Evaluate(&types.CertificateEvent{Domains: domains}, m.set)
}

// Run consumes the feed until ctx is cancelled, MaxAttempts consecutive dials
// fail (stream.ErrTooManyAttempts), or stdout breaks (notify.ErrStdout).
func (m *Monitor) Run(ctx context.Context) error {
	c := m.config

	sinks := make(notify.Multi, len(c.notifiers))
	for i, n := range c.notifiers {
		if c.metrics != nil {
			n = notify.Observed(n, c.metrics.RecordDelivery)
		}
		sinks[i] = n
	}

	sup := &stream.Supervisor{
		Dialer: c.dialer,
		Pipeline: &stream.Pipeline{
			Patterns: m.set,
			Notifier: sinks,
			Logger:   c.logger.With("component", "pipeline"),
			Metrics:  c.metrics,
		},
		Concurrency: c.concurrency,
		MaxAttempts: c.maxAttempts,
		Backoff:     c.backoff,
		Logger:      c.logger,
		Metrics:     c.metrics,
	}
	return sup.Run(ctx)
}

// MatchAll returns the sources of every pattern matching domain, in
// declaration order.
func (m *Monitor) MatchAll(domain string) ([]string, error) {
	return m.set.MatchAll(domain)
}

// PatternCount returns the number of compiled patterns.
func (m *Monitor) PatternCount() int {
	return m.set.Len()
}

// Patterns returns a copy of the compiled patterns.
func (m *Monitor) Patterns() []Pattern {
	return m.set.Patterns()
}

// Close releases matcher resources.
func (m *Monitor) Close() error {
	return m.set.Close()
}
