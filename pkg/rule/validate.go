package rule

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// ErrEmptyFile is returned when a pattern file contains no patterns.
var ErrEmptyFile = errors.New("pattern file contains no patterns")

// ValidatePattern checks required fields of a rule.
// Regex syntax is checked by matcher.Compile, not here.
func ValidatePattern(p *types.Pattern) error {
	if p == nil {
		return fmt.Errorf("pattern is nil")
	}
	if p.Source == "" {
		return fmt.Errorf("rule %s: pattern is required", p.ID)
	}
	if strings.ContainsAny(p.Source, "\r\n") {
		return fmt.Errorf("rule %s: pattern must be a single line", p.ID)
	}
	return nil
}

// Matcher is the subset of *matcher.Set needed to check examples.
type Matcher interface {
	MatchAll(domain string) ([]string, error)
}

// ExampleError reports a rule whose examples disagree with its pattern.
type ExampleError struct {
	ID       string
	Domain   string
	Negative bool // true when a negative example matched
}

func (e *ExampleError) Error() string {
	if e.Negative {
		return fmt.Sprintf("rule %s: negative example %q matched", e.ID, e.Domain)
	}
	return fmt.Sprintf("rule %s: example %q did not match", e.ID, e.Domain)
}

// ValidateExamples runs every rule's examples and negative examples through
// the compiled set m and reports each disagreement.
func ValidateExamples(patterns []types.Pattern, m Matcher) error {
	var errs []error
	for _, p := range patterns {
		for _, domain := range p.Examples {
			ok, err := matches(m, p.Source, domain)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", p.ID, err))
				continue
			}
			if !ok {
				errs = append(errs, &ExampleError{ID: p.ID, Domain: domain})
			}
		}
		for _, domain := range p.NegativeExamples {
			ok, err := matches(m, p.Source, domain)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", p.ID, err))
				continue
			}
			if ok {
				errs = append(errs, &ExampleError{ID: p.ID, Domain: domain, Negative: true})
			}
		}
	}
	return errors.Join(errs...)
}

func matches(m Matcher, source, domain string) (bool, error) {
	got, err := m.MatchAll(domain)
	if err != nil {
		return false, err
	}
	return slices.Contains(got, source), nil
}
