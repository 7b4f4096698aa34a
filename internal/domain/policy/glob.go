package policy

import (
	"regexp"
	"strings"
)

// compileGlob compiles a glob pattern into a case-insensitive anchored
// regexp. `**` matches zero or more characters including `/`; `*` matches
// zero or more characters excluding `/`; `?` matches one non-`/` character;
// every other regex metacharacter is escaped (§4.1).
func compileGlob(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("(?is)^")
	i := 0
	for i < len(pattern) {
		switch c := pattern[i]; {
		case c == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			sb.WriteString(".*")
			i += 2
		case c == '*':
			sb.WriteString("[^/]*")
			i++
		case c == '?':
			sb.WriteString("[^/]")
			i++
		default:
			j := i
			for j < len(pattern) && pattern[j] != '*' && pattern[j] != '?' {
				j++
			}
			sb.WriteString(regexp.QuoteMeta(pattern[i:j]))
			i = j
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// globMatch is a convenience wrapper for one-shot glob matches.
func globMatch(pattern, s string) bool {
	return compileGlob(pattern).MatchString(s)
}
