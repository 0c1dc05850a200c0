package prefilter

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/praetorian-inc/certwatch/pkg/types"
)

// Prefilter uses Aho-Corasick to match every plain-literal pattern in one pass.
// It is read-only after New and safe for concurrent use.
type Prefilter struct {
	matcher  *ahocorasick.Matcher
	literals []string // literal at each automaton index
	owners   [][]int  // automaton index -> indexes of patterns with that literal
}

// New splits patterns into those the automaton can answer exactly and the
// remainder, which still needs a regex engine. The automaton is nil when no
// pattern is a plain literal.
func New(patterns []types.Pattern) (*Prefilter, []types.Pattern) {
	pf := &Prefilter{}
	rest := make([]types.Pattern, 0, len(patterns))
	seen := make(map[string]int)

	for _, p := range patterns {
		lit, ok := Literal(p.Source)
		if !ok {
			rest = append(rest, p)
			continue
		}
		i, dup := seen[lit]
		if !dup {
			i = len(pf.literals)
			seen[lit] = i
			pf.literals = append(pf.literals, lit)
			pf.owners = append(pf.owners, nil)
		}
		pf.owners[i] = append(pf.owners[i], p.Index)
	}

	if len(pf.literals) > 0 {
		pf.matcher = ahocorasick.NewStringMatcher(pf.literals)
	}
	return pf, rest
}

// Len returns the number of patterns answered by the automaton.
func (pf *Prefilter) Len() int {
	n := 0
	for _, o := range pf.owners {
		n += len(o)
	}
	return n
}

// Match returns the indexes of literal patterns contained in domain, unordered.
func (pf *Prefilter) Match(domain string) []int {
	if pf.matcher == nil || domain == "" {
		return nil
	}
	var result []int
	for _, hit := range pf.matcher.MatchThreadSafe([]byte(domain)) {
		result = append(result, pf.owners[hit]...)
	}
	return result
}

// Literal reports whether expr matches exactly one case-sensitive string and
// nothing else, returning that string. Only ASCII letters, digits, '_' and
// '-' are accepted, plus the escapes `\.` and `\-`, so the result is the same
// in every regex dialect. `paypal` and `evil\.com` qualify; `\Qa.b\E`,
// `\x70` and anything with classes, anchors, repetition or flags do not.
func Literal(expr string) (string, bool) {
	if expr == "" {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '\\':
			if i+1 >= len(expr) || (expr[i+1] != '.' && expr[i+1] != '-') {
				return "", false
			}
			i++
			b.WriteByte(expr[i])
		case isLiteralByte(c):
			b.WriteByte(c)
		default:
			return "", false
		}
	}
	return b.String(), true
}

func isLiteralByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
