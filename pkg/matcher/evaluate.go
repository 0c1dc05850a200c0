package matcher

import (
	"errors"
	"fmt"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// PatternMatcher reports which patterns match a domain. *Set implements it.
type PatternMatcher interface {
	MatchAll(domain string) ([]string, error)
}

// Evaluate runs every domain of event through patterns and returns one
// MatchResult per domain with at least one match, in domain order.
//
// Evaluation errors are joined and returned together with the results
// gathered from every domain; a domain that errored may still carry matches.
func Evaluate(event *types.CertificateEvent, patterns PatternMatcher) ([]types.MatchResult, error) {
	if event == nil {
		return nil, nil
	}

	var (
		results []types.MatchResult
		errs    []error
	)
	for _, domain := range event.Domains {
		matched, err := patterns.MatchAll(domain)
		if err != nil {
			errs = append(errs, fmt.Errorf("domain %q: %w", domain, err))
		}
		if len(matched) > 0 {
			results = append(results, types.MatchResult{Domain: domain, Patterns: matched})
		}
	}
	return results, errors.Join(errs...)
}
