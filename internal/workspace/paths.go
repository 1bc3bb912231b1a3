// ABOUTME: Unicode-aware path handling for agent-supplied file paths
// ABOUTME: Builds NFC/NFD, curly-quote, and narrow-space variants and the buffer lookup key

package workspace

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSpaces replaces Unicode space characters with ASCII space (U+0020).
// Covered codepoints: U+00A0, U+2000-U+200A, U+202F, U+205F, U+3000.
func NormalizeSpaces(s string) string {
	if !strings.ContainsFunc(s, isUnicodeSpace) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isUnicodeSpace(r) {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUnicodeSpace(r rune) bool {
	switch {
	case r == '\u00A0': // no-break space
		return true
	case r >= '\u2000' && r <= '\u200A':
		return true
	case r == '\u202F', r == '\u205F', r == '\u3000':
		return true
	}
	return false
}

// key is the buffer map key for path: cleaned and NFC-composed, so an
// agent sending "Café.md" in NFD finds the buffer opened as NFC.
func key(path string) string {
	return norm.NFC.String(filepath.Clean(path))
}

// variants returns the spellings of path worth trying on disk, direct first
// and without duplicates.
func variants(path string) []string {
	path = filepath.Clean(path)
	straight := strings.ReplaceAll(path, "\u2019", "'")
	candidates := []string{
		path,
		norm.NFC.String(path),
		norm.NFD.String(path),
		NormalizeSpaces(path),
		straight,
		norm.NFD.String(straight),
	}
	out := candidates[:0]
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
