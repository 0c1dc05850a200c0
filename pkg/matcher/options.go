package matcher

import "time"

// Engine names accepted by WithEngine.
const (
	EngineRegexp    = "regexp"
	EngineHyperscan = "hyperscan"
)

// Options contains configuration for pattern compilation.
type Options struct {
	// Engine selects the regex implementation: EngineRegexp (default, pure Go)
	// or EngineHyperscan (requires CGO and the hyperscan build tag).
	Engine string

	// MatchTimeout bounds one regexp2 evaluation to stop catastrophic backtracking.
	// Default: 5 seconds.
	MatchTimeout time.Duration

	// LiteralPrefilter answers plain-literal patterns with a single Aho-Corasick
	// pass instead of one regex each. Results are identical either way.
	LiteralPrefilter bool
}

// Option configures Compile.
type Option func(*Options)

// DefaultOptions returns the default options for the matcher
func DefaultOptions() Options {
	return Options{
		Engine:           EngineRegexp,
		MatchTimeout:     5 * time.Second,
		LiteralPrefilter: true,
	}
}

// WithEngine selects the regex engine.
func WithEngine(name string) Option {
	return func(o *Options) {
		o.Engine = name
	}
}

// WithMatchTimeout sets the per-evaluation regexp2 timeout.
func WithMatchTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.MatchTimeout = d
	}
}

// WithLiteralPrefilter enables or disables the Aho-Corasick literal fast path.
func WithLiteralPrefilter(enabled bool) Option {
	return func(o *Options) {
		o.LiteralPrefilter = enabled
	}
}
