package pack

import (
	"path"
	"strings"
)

// Sanitize reduces a display name to characters that are safe in any
// archive path: letters, digits, dot, dash and underscore. Runs of anything
// else collapse to a single underscore.
func Sanitize(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "document"
	}
	return out
}

// PathSafe keeps an identifier as it is except for characters that cannot
// appear in one archive or object path segment: separators, control
// characters and the ones Windows rejects. Each is replaced by an
// underscore; underscores and non-ASCII letters pass through untouched.
func PathSafe(id string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, strings.TrimSpace(id))
	if out == "" || out == "." || out == ".." {
		return "request"
	}
	return out
}

// cleanFileName keeps the uploaded name recognisable but drops directory
// components and characters that archive tools reject.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		default:
			return r
		}
	}, name)
}
