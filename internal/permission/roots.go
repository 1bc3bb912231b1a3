// ABOUTME: Root confinement for agent file access: paths must resolve inside a workspace root
// ABOUTME: Rejects traversal patterns and null bytes, resolves symlinks, and blocks writes to system directories

package permission

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoots is returned for paths that resolve outside every root.
var ErrOutsideRoots = errors.New("path is outside the workspace")

// systemDirs never accept writes, even when a root contains them.
var systemDirs = []string{"/etc", "/usr", "/bin", "/sbin", "/boot", "/proc", "/sys"}

// Roots validates file paths against a set of allowed directories.
type Roots struct {
	prefixes []string // Resolved absolute paths with trailing separator
}

// NewRoots creates a Roots for the given directories.
func NewRoots(dirs ...string) (*Roots, error) {
	if len(dirs) == 0 {
		return nil, errors.New("at least one root is required")
	}
	prefixes := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			resolved = dir
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return nil, fmt.Errorf("resolving root %q: %w", dir, err)
		}
		if !strings.HasSuffix(abs, string(filepath.Separator)) {
			abs += string(filepath.Separator)
		}
		prefixes = append(prefixes, abs)
	}
	return &Roots{prefixes: prefixes}, nil
}

// Dirs returns the roots without trailing separators.
func (r *Roots) Dirs() []string {
	out := make([]string, len(r.prefixes))
	for i, p := range r.prefixes {
		out[i] = strings.TrimSuffix(p, string(filepath.Separator))
		if out[i] == "" {
			out[i] = string(filepath.Separator)
		}
	}
	return out
}

// CheckRead validates path for reading and returns its resolved form.
func (r *Roots) CheckRead(path string) (string, error) {
	return r.check(path, "read")
}

// CheckWrite validates path for writing and returns its resolved form.
func (r *Roots) CheckWrite(path string) (string, error) {
	resolved, err := r.check(path, "write")
	if err != nil {
		return "", err
	}
	for _, sys := range systemDirs {
		if resolved == sys || strings.HasPrefix(resolved, sys+string(filepath.Separator)) {
			return "", fmt.Errorf("write access denied to system directory: %s", path)
		}
	}
	return resolved, nil
}

func (r *Roots) check(path, op string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%s %q: path must be absolute", op, path)
	}
	if err := checkTraversal(path); err != nil {
		return "", fmt.Errorf("%s %q: %w", op, path, err)
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return "", fmt.Errorf("%s %q: %w", op, path, err)
	}
	if !r.contains(resolved) {
		return "", fmt.Errorf("%s %q: %w", op, path, ErrOutsideRoots)
	}
	return resolved, nil
}

func (r *Roots) contains(resolved string) bool {
	withSep := resolved
	if !strings.HasSuffix(withSep, string(filepath.Separator)) {
		withSep += string(filepath.Separator)
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(withSep, p) {
			return true
		}
	}
	return false
}

// checkTraversal rejects .. components, encoded traversal, and null bytes.
func checkTraversal(path string) error {
	if strings.ContainsRune(path, 0) {
		return errors.New("null byte in path")
	}
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, pattern := range []string{"..%2f", "..%5c", "%2e%2e%2f", "%2e%2e%5c", "..\\"} {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("contains traversal pattern %s", pattern)
		}
	}
	for _, part := range strings.Split(lower, "/") {
		if part == ".." {
			return errors.New("path contains .. component")
		}
	}
	return nil
}

// resolvePath resolves symlinks. For a file that does not exist yet the
// nearest existing ancestor is resolved and the rest is appended.
func resolvePath(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return filepath.Abs(resolved)
	} else if !os.IsNotExist(err) {
		return filepath.Abs(path)
	}

	var tail []string
	dir := filepath.Clean(path)
	for {
		parent := filepath.Dir(dir)
		tail = append(tail, filepath.Base(dir))
		if parent == dir {
			return filepath.Abs(path)
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return filepath.Abs(resolved)
		}
		dir = parent
	}
}
