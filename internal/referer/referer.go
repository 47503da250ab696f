// Package referer implements the allow/redirect decision for the
// incoming request's Referer header.
package referer

import "regexp"

// Decision is the outcome of checking a referer against the configured
// allow-list.
type Decision int

const (
	// Allow means the request may proceed.
	Allow Decision = iota
	// Redirect means the request should be redirected (301) to the
	// upstream URL itself.
	Redirect
)

// Gate holds the compiled allow-list patterns.
type Gate struct {
	patterns []*regexp.Regexp
}

// New compiles the given regex patterns. Invalid patterns are skipped —
// callers are expected to validate configuration at startup.
func New(patterns []string) *Gate {
	g := &Gate{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		g.patterns = append(g.patterns, re)
	}
	return g
}

// Check implements the Referer Gate policy: allow if there are no
// configured patterns, allow if the referer is missing, allow if the
// referer matches at least one pattern, otherwise redirect.
func (g *Gate) Check(referer string) Decision {
	if len(g.patterns) == 0 {
		return Allow
	}
	if referer == "" {
		return Allow
	}
	for _, re := range g.patterns {
		if re.MatchString(referer) {
			return Allow
		}
	}
	return Redirect
}
