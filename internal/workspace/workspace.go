// ABOUTME: Workspace serving the agent's fs/read_text_file and fs/write_text_file calls
// ABOUTME: Open editor buffers shadow the disk; writes are atomic or held for review

package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/mauromedda/acp-engine-go/internal/log"
	"github.com/mauromedda/acp-engine-go/internal/permission"
)

// ErrNoPendingWrite is returned by Accept and Discard for unknown paths.
var ErrNoPendingWrite = errors.New("no pending write for path")

// Buffer is an open editor buffer.
type Buffer struct {
	Path    string
	Content string
	Dirty   bool // changed since it was opened or last saved
}

// PendingWrite is an agent write held for review.
type PendingWrite struct {
	Path     string
	Previous string // "" for a new file
	Content  string
	Exists   bool
}

// WriteNotice describes an applied or deferred write.
type WriteNotice struct {
	Path     string
	Previous string
	Content  string
	Deferred bool
}

// Options configures a Workspace.
type Options struct {
	// Roots confines every read and write. Required.
	Roots *permission.Roots
	// Review holds agent writes until Accept instead of writing them.
	Review bool
	// OnWrite is called after each write is applied or deferred.
	OnWrite func(WriteNotice)
}

// Workspace implements acp.FileAccessor and acp.FileMutator.
type Workspace struct {
	roots   *permission.Roots
	review  bool
	onWrite func(WriteNotice)
	log     *log.Logger

	mu      sync.RWMutex
	buffers map[string]*Buffer
	pending map[string]*PendingWrite
	history []AppliedWrite
}

// New returns a workspace for opts.
func New(opts Options) (*Workspace, error) {
	if opts.Roots == nil {
		return nil, errors.New("workspace: roots are required")
	}
	return &Workspace{
		roots:   opts.Roots,
		review:  opts.Review,
		onWrite: opts.OnWrite,
		log:     log.New("workspace"),
		buffers: make(map[string]*Buffer),
		pending: make(map[string]*PendingWrite),
	}, nil
}

// Open registers an editor buffer for path. Reads of path return content
// until Close.
func (w *Workspace) Open(path, content string) {
	w.mu.Lock()
	w.buffers[key(path)] = &Buffer{Path: filepath.Clean(path), Content: content}
	w.mu.Unlock()
}

// Close drops the buffer for path.
func (w *Workspace) Close(path string) {
	w.mu.Lock()
	delete(w.buffers, key(path))
	w.mu.Unlock()
}

// Buffer returns a copy of the open buffer for path.
func (w *Workspace) Buffer(path string) (Buffer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	b, ok := w.buffers[key(path)]
	if !ok {
		return Buffer{}, false
	}
	return *b, true
}

// ReadTextFile implements acp.FileAccessor.
func (w *Workspace) ReadTextFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := w.roots.CheckRead(path); err != nil {
		return "", err
	}

	w.mu.RLock()
	if p, ok := w.pending[key(path)]; ok {
		w.mu.RUnlock()
		return p.Content, nil
	}
	if b, ok := w.buffers[key(path)]; ok {
		w.mu.RUnlock()
		return b.Content, nil
	}
	w.mu.RUnlock()

	return readDisk(path)
}

// readDisk tries each Unicode variant of path. The error for the direct
// spelling is returned when none exists.
func readDisk(path string) (string, error) {
	var firstErr error
	for _, c := range variants(path) {
		data, err := os.ReadFile(c)
		if err == nil {
			return string(data), nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return "", fmt.Errorf("reading %s: %w", path, firstErr)
}

// WriteTextFile implements acp.FileMutator. An open buffer is updated and
// marked dirty; the disk copy is written unless review mode defers it.
func (w *Workspace) WriteTextFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resolved, err := w.roots.CheckWrite(path)
	if err != nil {
		return err
	}

	previous, exists := w.current(path)
	k := key(path)

	if w.review {
		w.mu.Lock()
		if p, ok := w.pending[k]; ok {
			previous, exists = p.Previous, p.Exists
		}
		w.pending[k] = &PendingWrite{Path: filepath.Clean(path), Previous: previous, Content: content, Exists: exists}
		w.mu.Unlock()
		w.log.Info("holding write to %s for review", path)
		w.notify(WriteNotice{Path: path, Previous: previous, Content: content, Deferred: true})
		return nil
	}

	if err := writeAtomic(resolved, content); err != nil {
		return err
	}
	w.mu.Lock()
	if b, ok := w.buffers[k]; ok {
		b.Content = content
		b.Dirty = true
	}
	w.recordLocked(AppliedWrite{Path: filepath.Clean(path), Previous: previous, Existed: exists, resolved: resolved})
	w.mu.Unlock()
	w.log.Debug("wrote %d bytes to %s", len(content), path)
	w.notify(WriteNotice{Path: path, Previous: previous, Content: content})
	return nil
}

// current returns what a read of path would see, ignoring pending writes.
func (w *Workspace) current(path string) (string, bool) {
	w.mu.RLock()
	b, ok := w.buffers[key(path)]
	w.mu.RUnlock()
	if ok {
		return b.Content, true
	}
	content, err := readDisk(path)
	if err != nil {
		return "", false
	}
	return content, true
}

func (w *Workspace) notify(n WriteNotice) {
	if w.onWrite != nil {
		w.onWrite(n)
	}
}

// Pending returns the writes held for review, sorted by path.
func (w *Workspace) Pending() []PendingWrite {
	w.mu.RLock()
	out := make([]PendingWrite, 0, len(w.pending))
	for _, p := range w.pending {
		out = append(out, *p)
	}
	w.mu.RUnlock()
	slices.SortFunc(out, func(a, b PendingWrite) int {
		if a.Path < b.Path {
			return -1
		}
		if a.Path > b.Path {
			return 1
		}
		return 0
	})
	return out
}

// Accept writes a held change to disk.
func (w *Workspace) Accept(path string) error {
	k := key(path)
	w.mu.Lock()
	p, ok := w.pending[k]
	if ok {
		delete(w.pending, k)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingWrite, path)
	}

	resolved, err := w.roots.CheckWrite(p.Path)
	if err == nil {
		err = writeAtomic(resolved, p.Content)
	}
	if err != nil {
		w.mu.Lock()
		if _, raced := w.pending[k]; !raced {
			w.pending[k] = p
		}
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	if b, ok := w.buffers[k]; ok {
		b.Content = p.Content
		b.Dirty = true
	}
	w.recordLocked(AppliedWrite{Path: p.Path, Previous: p.Previous, Existed: p.Exists, resolved: resolved})
	w.mu.Unlock()
	return nil
}

// Discard drops a held change.
func (w *Workspace) Discard(path string) error {
	k := key(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[k]; !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingWrite, path)
	}
	delete(w.pending, k)
	return nil
}

// writeAtomic writes content next to path and renames it into place, so a
// reader never sees a half-written file. The mode of an existing file is kept.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
