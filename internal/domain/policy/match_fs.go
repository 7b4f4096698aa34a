package policy

import "strings"

// MatchFilesystem reports whether a filesystem glob pattern matches a
// target path, per §4.1. A pattern ending in "/" is implicitly suffixed
// with "**".
func MatchFilesystem(pattern, target string) bool {
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	return globMatch(pattern, target)
}

// MatchSkill reports a case-insensitive glob match of a skill slug pattern
// against a skill slug (§4.1, used outside the exec/network hot path).
func MatchSkill(pattern, slug string) bool {
	return globMatch(pattern, slug)
}

// ExtractConcretePath returns the SBPL-style "concrete" form of a
// filesystem deny pattern, used only for sandbox deny-list seeding (§4.1).
// A pattern is concrete iff it is absolute, not prefixed with "**/" or
// "*/", and after stripping a single trailing "/*" or "/**" contains no
// remaining "*"/"?" and is neither empty nor "/".
func ExtractConcretePath(pattern string) (string, bool) {
	p := strings.TrimSpace(pattern)
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	if strings.HasPrefix(p, "**/") || strings.HasPrefix(p, "*/") {
		return "", false
	}

	switch {
	case strings.HasSuffix(p, "/**"):
		p = strings.TrimSuffix(p, "/**")
	case strings.HasSuffix(p, "/*"):
		p = strings.TrimSuffix(p, "/*")
	}

	if p == "" || p == "/" {
		return "", false
	}
	if strings.ContainsAny(p, "*?") {
		return "", false
	}
	return p, true
}

// ExtractConcretePaths runs ExtractConcretePath over a list of patterns,
// preserving first-seen order and deduplicating (§4.1, §8 idempotence).
func ExtractConcretePaths(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		concrete, ok := ExtractConcretePath(p)
		if !ok {
			continue
		}
		if _, dup := seen[concrete]; dup {
			continue
		}
		seen[concrete] = struct{}{}
		out = append(out, concrete)
	}
	return out
}
