package policy

import (
	"path/filepath"
	"strings"
)

// CommandBasename extracts the last path component of the first
// whitespace-delimited token of a target command, with an optional "fork:"
// prefix stripped (GLOSSARY).
func CommandBasename(target string) string {
	target = strings.TrimPrefix(strings.TrimSpace(target), "fork:")
	fields := strings.Fields(target)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// MatchCommand reports whether a command pattern matches a target command
// string, per §4.1. "*" is universal; a trailing ":*" is a basename-prefix
// match allowing an optional argument tail; otherwise it is an exact match
// on the target's basename. No "**"/"?" support for command patterns.
func MatchCommand(pattern, target string) bool {
	if pattern == "*" {
		return true
	}

	base := CommandBasename(target)

	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		return strings.EqualFold(base, prefix)
	}

	return base == pattern
}
