package gate

import (
	"path"
	"strings"
)

// matchPattern reports whether a slash-normalized project-relative path
// matches a gitignore-style glob. Patterns without a separator match the
// basename at any depth; "**" crosses directory boundaries; a trailing
// "/" matches everything under the named directory.
func matchPattern(pattern, target string) bool {
	pattern = strings.TrimPrefix(pattern, "/")
	target = strings.TrimPrefix(target, "/")
	if pattern == "" {
		return false
	}

	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}
	if !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}

	return matchSegments(strings.Split(pattern, "/"), strings.Split(target, "/"))
}

// matchSegments matches pattern segments against path segments, with
// "**" consuming zero or more segments.
func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], parts) {
			return true
		}
		return len(parts) > 0 && matchSegments(pat, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}

// normalizePath slashes and cleans a candidate path for matching.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}
