// Package wildcard implements the positional glob matcher shared by
// provider-type expansion and target expansion.
//
// Only '*' is a metacharacter for matching. HasWildcard additionally
// treats a bracket pair as a wildcard so that callers route such
// inputs through enumeration rather than a literal lookup.
package wildcard

import "strings"

// Pattern is a tokenised glob.
type Pattern struct {
	Tokens        []string
	StartWildcard bool
	EndWildcard   bool
}

// HasWildcard reports whether s should be treated as a glob.
func HasWildcard(s string) bool {
	if strings.Contains(s, "*") {
		return true
	}
	return strings.Contains(s, "[") && strings.Contains(s, "]")
}

// Tokens splits input on '*', dropping empty segments, and records
// whether input began or ended with '*'.
func Tokens(input string) Pattern {
	if input == "" {
		return Pattern{}
	}
	var toks []string
	for _, tok := range strings.Split(input, "*") {
		if tok != "" {
			toks = append(toks, tok)
		}
	}
	return Pattern{
		Tokens:        toks,
		StartWildcard: input[0] == '*',
		EndWildcard:   input[len(input)-1] == '*',
	}
}

// Match reports whether candidate matches the pattern.
func (p Pattern) Match(candidate string) bool {
	return Match(candidate, p.Tokens, p.StartWildcard, p.EndWildcard)
}

// Match reports whether tokens occur in candidate in order without
// overlapping. The first token must sit at offset 0 unless start is
// set, and the last token must end the candidate unless end is set.
// An empty token list matches everything when both flags are set and
// only the empty string when neither is.
func Match(candidate string, tokens []string, start, end bool) bool {
	if len(tokens) == 0 {
		if start || end {
			return true
		}
		return candidate == ""
	}

	pos := 0
	for i, tok := range tokens {
		if i == 0 && !start {
			if !strings.HasPrefix(candidate, tok) {
				return false
			}
			pos = len(tok)
			continue
		}
		// The last token anchored at the end is searched from the
		// right so that "a*b" matches "abab".
		if i == len(tokens)-1 && !end {
			if len(candidate)-len(tok) < pos || !strings.HasSuffix(candidate, tok) {
				return false
			}
			return true
		}
		idx := strings.Index(candidate[pos:], tok)
		if idx < 0 {
			return false
		}
		pos += idx + len(tok)
	}
	return end || pos == len(candidate)
}

// MatchString tokenises pattern and matches candidate against it.
func MatchString(pattern, candidate string) bool {
	return Tokens(pattern).Match(candidate)
}
