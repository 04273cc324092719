// Package security guards the names the simulator writes to disk. Substrate
// names come from user configs and end up in output file names.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxFilenameLen = 128

// SanitizeFilename maps an arbitrary label onto a safe file name stem.
// Characters outside [A-Za-z0-9._-] become underscores, runs of
// underscores collapse, and leading or trailing dots and underscores are
// trimmed. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// JoinWithin joins name onto base and rejects results that escape base.
// The check is lexical so it works for in-memory filesystems too.
func JoinWithin(base, name string) (string, error) {
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(filepath.Clean(base), joined)
	if err != nil {
		return "", fmt.Errorf("path %q is outside %q: %w", name, base, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", name, base)
	}
	return joined, nil
}
