package types

import (
	"strings"
	"time"
)

// MatchResult pairs a domain with the sources of every pattern that matched it.
// Patterns is never empty and is ordered by pattern declaration order.
type MatchResult struct {
	Domain   string    `json:"domain"`
	Patterns []string  `json:"patterns"`
	Time     time.Time `json:"time,omitzero"`
}

// Joined returns the "domain -> p1, p2" summary used by the joined output
// mode and the slack webhook payload.
func (m MatchResult) Joined() string {
	return m.Domain + " -> " + strings.Join(m.Patterns, ", ")
}
