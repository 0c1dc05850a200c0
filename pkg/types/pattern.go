// Package types contains the values passed between the certwatch pipeline stages.
package types

import "fmt"

// Pattern is a single detection rule tested against certificate domains.
type Pattern struct {
	Index            int      // position in the compiled set, stable for the process lifetime
	ID               string   // e.g., "line.3" or the id from a YAML rule file
	Name             string   // human-readable name, optional
	Source           string   // pattern text, reported on match
	Examples         []string // domains that must match (YAML rules only)
	NegativeExamples []string // domains that must not match (YAML rules only)
}

// LineID returns the ID assigned to a pattern read from line n (1-based) of a text file.
func LineID(n int) string {
	return fmt.Sprintf("line.%d", n)
}

// Label returns the name of the pattern, falling back to its ID.
func (p *Pattern) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// RuleID returns the ID assigned to the n-th (1-based) entry of a YAML rule
// file that has no explicit id.
func RuleID(n int) string {
	return fmt.Sprintf("rule.%d", n)
}
