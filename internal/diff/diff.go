// ABOUTME: Line diff for permission previews of agent edits
// ABOUTME: LCS-based unified diff with context hunks plus added/removed line counts

package diff

import (
	"fmt"
	"strings"
)

// maxCells bounds the LCS table; larger inputs fall back to a positional diff.
const maxCells = 4_000_000

// Op is the kind of a diff line.
type Op byte

const (
	Equal  Op = ' '
	Insert Op = '+'
	Delete Op = '-'
)

// Line is one line of an edit script.
type Line struct {
	Op   Op
	Text string
}

// Stats counts changed lines.
type Stats struct {
	Added   int
	Removed int
}

func (s Stats) String() string {
	return fmt.Sprintf("+%d -%d", s.Added, s.Removed)
}

// Lines returns the edit script turning before into after.
func Lines(before, after string) []Line {
	a, b := split(before), split(after)
	if len(a)*len(b) > maxCells {
		return positional(a, b)
	}
	return lcs(a, b)
}

// Count returns the added and removed line counts between before and after.
func Count(before, after string) Stats {
	var s Stats
	for _, l := range Lines(before, after) {
		switch l.Op {
		case Insert:
			s.Added++
		case Delete:
			s.Removed++
		}
	}
	return s
}

// Unified renders a unified diff with context lines around each hunk.
// It returns "" when the contents are identical.
func Unified(path, before, after string, context int) string {
	script := Lines(before, after)
	hunks := group(script, max(context, 0))
	if len(hunks) == 0 {
		return ""
	}

	var b strings.Builder
	oldName, newName := "a/"+strings.TrimPrefix(path, "/"), "b/"+strings.TrimPrefix(path, "/")
	if before == "" {
		oldName = "/dev/null"
	}
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	for _, h := range hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", span(h.oldStart, h.oldLen), span(h.newStart, h.newLen))
		for _, l := range script[h.from:h.to] {
			b.WriteByte(byte(l.Op))
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func span(start, n int) string {
	if n == 0 {
		return fmt.Sprintf("%d,0", start)
	}
	if n == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, n)
}

type hunk struct {
	from, to         int // range in the edit script
	oldStart, oldLen int
	newStart, newLen int
}

// group slices the script into hunks, merging changes closer than
// 2*context equal lines.
func group(script []Line, context int) []hunk {
	var hunks []hunk
	oldLine, newLine := make([]int, len(script)+1), make([]int, len(script)+1)
	o, n := 1, 1
	for i, l := range script {
		oldLine[i], newLine[i] = o, n
		if l.Op != Insert {
			o++
		}
		if l.Op != Delete {
			n++
		}
	}
	oldLine[len(script)], newLine[len(script)] = o, n

	i := 0
	for i < len(script) {
		if script[i].Op == Equal {
			i++
			continue
		}
		from := max(i-context, 0)
		end := i
		for end < len(script) {
			if script[end].Op != Equal {
				end++
				continue
			}
			run := end
			for run < len(script) && script[run].Op == Equal {
				run++
			}
			if run == len(script) || run-end > 2*context {
				break
			}
			end = run
		}
		to := min(end+context, len(script))
		h := hunk{from: from, to: to, oldStart: oldLine[from], newStart: newLine[from]}
		for _, l := range script[from:to] {
			if l.Op != Insert {
				h.oldLen++
			}
			if l.Op != Delete {
				h.newLen++
			}
		}
		if h.oldLen == 0 {
			h.oldStart--
		}
		if h.newLen == 0 {
			h.newStart--
		}
		hunks = append(hunks, h)
		i = to
	}
	return hunks
}

// split breaks s into lines. A trailing newline does not add an empty line.
func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func lcs(a, b []string) []Line {
	// table[i][j] is the LCS length of a[i:] and b[j:].
	w := len(b) + 1
	table := make([]int, (len(a)+1)*w)
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i*w+j] = table[(i+1)*w+j+1] + 1
			} else {
				table[i*w+j] = max(table[(i+1)*w+j], table[i*w+j+1])
			}
		}
	}

	out := make([]Line, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, Line{Equal, a[i]})
			i++
			j++
		case table[(i+1)*w+j] >= table[i*w+j+1]:
			out = append(out, Line{Delete, a[i]})
			i++
		default:
			out = append(out, Line{Insert, b[j]})
			j++
		}
	}
	for ; i < len(a); i++ {
		out = append(out, Line{Delete, a[i]})
	}
	for ; j < len(b); j++ {
		out = append(out, Line{Insert, b[j]})
	}
	return out
}

// positional pairs lines by index.
func positional(a, b []string) []Line {
	out := make([]Line, 0, len(a)+len(b))
	for i := range max(len(a), len(b)) {
		switch {
		case i < len(a) && i < len(b) && a[i] == b[i]:
			out = append(out, Line{Equal, a[i]})
		default:
			if i < len(a) {
				out = append(out, Line{Delete, a[i]})
			}
			if i < len(b) {
				out = append(out, Line{Insert, b[i]})
			}
		}
	}
	return out
}
