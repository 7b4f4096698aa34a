package policy

import "strings"

// NormalizeURL implements the URL normalization rules of §4.1: trim; strip
// trailing slashes of the path (preserving root "/"); if no scheme and not
// a wildcard scheme, prepend "https://"; preserve explicit "http://",
// "https://", "*://".
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	scheme, rest, hasScheme := splitURLScheme(raw)
	if !hasScheme {
		scheme = "https"
	}

	slashIdx := strings.IndexByte(rest, '/')
	if slashIdx == -1 {
		return scheme + "://" + rest
	}

	host := rest[:slashIdx]
	path := strings.TrimRight(rest[slashIdx:], "/")
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// splitURLScheme splits raw into (scheme, rest, hasScheme). A pattern of
// "*://host/path" keeps the literal "*" scheme for later glob matching.
func splitURLScheme(raw string) (scheme, rest string, hasScheme bool) {
	idx := strings.Index(raw, "://")
	if idx == -1 {
		return "", raw, false
	}
	return raw[:idx], raw[idx+3:], true
}

// IsHTTPTarget reports whether a normalized or raw URL target begins with
// the plain http scheme, case-insensitively (§4.3 step 5).
func IsHTTPTarget(target string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(target)), "http://")
}

// MatchURL reports whether a URL pattern matches a target URL, per §4.1.
// A pattern without a trailing "*" matches either the exact normalized URL
// or any URL beneath its path. A pattern with a trailing "*" (including
// "**") is matched purely as a glob.
func MatchURL(pattern, target string) bool {
	normPattern := NormalizeURL(pattern)
	normTarget := NormalizeURL(target)

	if strings.HasSuffix(strings.TrimSpace(pattern), "*") {
		return globMatch(normPattern, normTarget)
	}

	if globMatch(normPattern, normTarget) {
		return true
	}
	return globMatch(normPattern+"/**", normTarget)
}
