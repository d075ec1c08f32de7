package fs

import (
	"path"
	"strings"
)

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match the relative path; false = match the basename
}

// IgnoreMatcher checks walked paths against a set of ignore patterns.
// Patterns without '/' match against the file's basename only; patterns with
// '/' match against the full slash-relative path from the project root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings. Blank
// entries and entries starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given slash-relative path should be ignored.
func (m *IgnoreMatcher) Match(rel string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	base := path.Base(rel)
	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = rel
		}
		matched, err := path.Match(p.pattern, target)
		if err != nil {
			// Bad pattern; skip it rather than fail the walk.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
