// Package matcher compiles pattern rules into an immutable Set and evaluates
// certificate events against it.
package matcher

import (
	"errors"
	"fmt"
	"slices"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// ErrNoPatterns is returned by Compile when there is nothing to compile.
var ErrNoPatterns = errors.New("no patterns provided")

// CompileError reports the first pattern that failed to compile.
// A failed compile never yields a partial Set.
type CompileError struct {
	Index  int
	ID     string
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile pattern %q (%s): %v", e.Source, e.ID, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// engine finds the indexes of patterns matching a domain.
// Implementations are read-only after construction.
type engine interface {
	match(domain string, hit func(index int)) error
	close() error
}

// Set is an immutable, precompiled collection of patterns. It is safe for
// concurrent use by any number of goroutines without locking.
type Set struct {
	patterns []types.Pattern
	engine   engine
}

// Compile builds a Set from patterns. Pattern indexes are reassigned to
// declaration order. Any invalid pattern fails the whole compile with a
// *CompileError.
func Compile(patterns []types.Pattern, opts ...Option) (*Set, error) {
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}

	cfg := DefaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	owned := make([]types.Pattern, len(patterns))
	copy(owned, patterns)
	for i := range owned {
		owned[i].Index = i
		if owned[i].ID == "" {
			owned[i].ID = types.LineID(i + 1)
		}
	}

	var (
		e   engine
		err error
	)
	switch cfg.Engine {
	case EngineRegexp, "":
		e, err = newRegexpEngine(owned, cfg)
	case EngineHyperscan:
		e, err = newHyperscanEngine(owned)
	default:
		return nil, fmt.Errorf("unknown matcher engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	return &Set{patterns: owned, engine: e}, nil
}

// CompileLines compiles one pattern per entry, in order.
func CompileLines(lines []string, opts ...Option) (*Set, error) {
	patterns := make([]types.Pattern, len(lines))
	for i, line := range lines {
		patterns[i] = types.Pattern{ID: types.LineID(i + 1), Source: line}
	}
	return Compile(patterns, opts...)
}

// MatchAll returns the source text of every pattern matching domain, in
// declaration order. A pattern matches when some substring of domain
// satisfies it, unless the pattern itself anchors.
//
// The error only reports patterns that could not be evaluated (for example a
// regexp2 match timeout); matches from every other pattern are still returned.
func (s *Set) MatchAll(domain string) ([]string, error) {
	var hits []int
	err := s.engine.match(domain, func(index int) {
		hits = append(hits, index)
	})
	if len(hits) == 0 {
		return nil, err
	}

	slices.Sort(hits)
	hits = slices.Compact(hits)

	sources := make([]string, len(hits))
	for i, idx := range hits {
		sources[i] = s.patterns[idx].Source
	}
	return sources, err
}

// Len returns the number of compiled patterns.
func (s *Set) Len() int {
	return len(s.patterns)
}

// Patterns returns a copy of the compiled patterns.
func (s *Set) Patterns() []types.Pattern {
	return slices.Clone(s.patterns)
}

// Close releases engine resources (Hyperscan databases and scratch space).
func (s *Set) Close() error {
	return s.engine.close()
}
