package matcher

import (
	"errors"
	"fmt"

	"github.com/dlclark/regexp2"
	"github.com/praetorian-inc/certwatch/pkg/prefilter"
	"github.com/praetorian-inc/certwatch/pkg/types"
)

type compiledPattern struct {
	index int
	re    *regexp2.Regexp
}

// regexpEngine evaluates patterns with regexp2, answering plain literals
// through the Aho-Corasick prefilter when enabled.
type regexpEngine struct {
	literals *prefilter.Prefilter // nil when the prefilter is disabled
	regexes  []compiledPattern
}

func newRegexpEngine(patterns []types.Pattern, opts Options) (*regexpEngine, error) {
	e := &regexpEngine{}

	// Every pattern is compiled, including literals, so a bad file fails as one unit.
	compiled := make([]*regexp2.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := compileRegexp(p.Source)
		if err != nil {
			return nil, &CompileError{Index: p.Index, ID: p.ID, Source: p.Source, Err: err}
		}
		if opts.MatchTimeout > 0 {
			re.MatchTimeout = opts.MatchTimeout
		}
		compiled[i] = re
	}

	remaining := patterns
	if opts.LiteralPrefilter {
		e.literals, remaining = prefilter.New(patterns)
	}

	e.regexes = make([]compiledPattern, 0, len(remaining))
	for _, p := range remaining {
		e.regexes = append(e.regexes, compiledPattern{index: p.Index, re: compiled[p.Index]})
	}
	return e, nil
}

// compileRegexp tries RE2 mode first, then falls back to the default
// Perl-compatible mode for constructs such as lookarounds.
func compileRegexp(expr string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(expr, regexp2.RE2)
	if err == nil {
		return re, nil
	}
	re, perlErr := regexp2.Compile(expr, regexp2.None)
	if perlErr != nil {
		return nil, err
	}
	return re, nil
}

func (e *regexpEngine) match(domain string, hit func(int)) error {
	if e.literals != nil {
		for _, idx := range e.literals.Match(domain) {
			hit(idx)
		}
	}

	var errs []error
	for _, c := range e.regexes {
		ok, err := c.re.MatchString(domain)
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %d: %w", c.index, err))
			continue
		}
		if ok {
			hit(c.index)
		}
	}
	return errors.Join(errs...)
}

func (e *regexpEngine) close() error {
	return nil
}
