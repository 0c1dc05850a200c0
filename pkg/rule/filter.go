package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/praetorian-inc/certwatch/pkg/types"
)

// FilterConfig selects rules by ID.
type FilterConfig struct {
	Include []string // Regex patterns - only matching rule IDs are kept
	Exclude []string // Regex patterns - matching rule IDs are dropped
}

// ParseList splits a comma-separated flag value, trimming whitespace and
// dropping empty entries.
func ParseList(value string) []string {
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Filter applies include then exclude to patterns by ID.
// Empty include keeps everything. Indexes of the result are renumbered.
func Filter(patterns []types.Pattern, config FilterConfig) ([]types.Pattern, error) {
	include, err := compileAll(config.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileAll(config.Exclude)
	if err != nil {
		return nil, err
	}

	result := make([]types.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if len(include) > 0 && !matchesAny(p.ID, include) {
			continue
		}
		if matchesAny(p.ID, exclude) {
			continue
		}
		p.Index = len(result)
		result = append(result, p)
	}
	return result, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	regexes := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid rule filter %q: %w", expr, err)
		}
		regexes = append(regexes, re)
	}
	return regexes, nil
}

func matchesAny(id string, regexes []*regexp.Regexp) bool {
	for _, re := range regexes {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}
