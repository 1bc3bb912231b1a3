// ABOUTME: Undo journal for agent writes that reached disk, used by the chat's /undo command
// ABOUTME: New files are removed on undo; existing files get their previous content back

package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// maxHistory bounds the undo journal.
const maxHistory = 100

// AppliedWrite is one write that reached disk.
type AppliedWrite struct {
	Path     string
	Previous string
	Existed  bool

	resolved string
}

// recordLocked appends to the journal. Called with mu held.
func (w *Workspace) recordLocked(a AppliedWrite) {
	w.history = append(w.history, a)
	if len(w.history) > maxHistory {
		w.history = append(w.history[:0:0], w.history[len(w.history)-maxHistory:]...)
	}
}

// History returns the applied writes, most recent first.
func (w *Workspace) History() []AppliedWrite {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]AppliedWrite, 0, len(w.history))
	for i := len(w.history) - 1; i >= 0; i-- {
		out = append(out, w.history[i])
	}
	return out
}

// Undo reverts up to n applied writes, most recent first, and returns one
// summary line per write. It stops at the first failure; that write stays
// in the journal.
func (w *Workspace) Undo(n int) ([]string, error) {
	var summary []string
	for range n {
		w.mu.Lock()
		if len(w.history) == 0 {
			w.mu.Unlock()
			break
		}
		op := w.history[len(w.history)-1]
		w.history = w.history[:len(w.history)-1]
		w.mu.Unlock()

		line, err := w.revert(op)
		if err != nil {
			w.mu.Lock()
			w.history = append(w.history, op)
			w.mu.Unlock()
			return summary, err
		}
		summary = append(summary, line)
	}
	return summary, nil
}

func (w *Workspace) revert(op AppliedWrite) (string, error) {
	k := key(op.Path)
	if !op.Existed {
		if err := os.Remove(op.resolved); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Sprintf("skip %s (already gone)", op.Path), nil
			}
			return "", fmt.Errorf("remove %s: %w", op.Path, err)
		}
		w.mu.Lock()
		delete(w.buffers, k)
		w.mu.Unlock()
		return fmt.Sprintf("removed %s", op.Path), nil
	}

	if err := writeAtomic(op.resolved, op.Previous); err != nil {
		return "", err
	}
	w.mu.Lock()
	if b, ok := w.buffers[k]; ok {
		b.Content = op.Previous
		b.Dirty = true
	}
	w.mu.Unlock()
	return fmt.Sprintf("restored %s", op.Path), nil
}

// FormatSummary joins undo summaries into a single display string.
func FormatSummary(lines []string) string {
	if len(lines) == 0 {
		return "Nothing to undo."
	}
	return "Undone:\n  " + strings.Join(lines, "\n  ")
}
