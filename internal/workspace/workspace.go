// Package workspace manages the per-session scratch directories uploaded
// files are written into.
package workspace

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755

	sessionPrefix = "session-"
)

// ErrInvalidName is returned for upload names that do not name a file.
var ErrInvalidName = errors.New("workspace: invalid file name")

// Root is the directory that holds one sub-directory per live session.
type Root struct {
	dir string
}

// OpenRoot creates dir if needed. An empty dir uses a fresh directory under
// the system temp dir.
func OpenRoot(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		tmp, err := os.MkdirTemp("", "logtally-")
		if err != nil {
			return nil, fmt.Errorf("workspace: create temp root: %w", err)
		}
		return &Root{dir: tmp}, nil
	}
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	return &Root{dir: dir}, nil
}

// Dir returns the root directory.
func (r *Root) Dir() string { return r.dir }

// Prune removes session directories left behind by an earlier process and
// returns how many were removed. Call it before accepting sessions.
func (r *Root) Prune() (int, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, sessionPrefix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, stale := range matches {
		if err := os.RemoveAll(stale); err != nil {
			return removed, fmt.Errorf("workspace: prune %s: %w", filepath.Base(stale), err)
		}
		removed++
	}
	return removed, nil
}

// New creates the scratch directory for session id.
func (r *Root) New(id string) (*Workspace, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("workspace: invalid session id %q", id)
	}
	dir := filepath.Join(r.dir, sessionPrefix+id)
	if err := os.Mkdir(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("workspace: create session dir: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Workspace is one session's private scratch directory.
type Workspace struct {
	dir string

	mu      sync.Mutex
	removed bool
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// SanitizeName reduces an uploaded file name to its final path element.
// Names that reduce to nothing, "." or ".." are rejected.
func SanitizeName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// Create opens name for writing inside the workspace, truncating an earlier
// upload of the same name.
func (w *Workspace) Create(name string) (*os.File, error) {
	base, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, base), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", base, err)
	}
	return f, nil
}

// Files lists the regular files in the workspace, sorted by name.
func (w *Workspace) Files() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: list: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(w.dir, e.Name()))
	}
	return files, nil
}

// Remove deletes the workspace and everything in it. Later calls are no-ops.
func (w *Workspace) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return nil
	}
	w.removed = true
	if err := os.RemoveAll(w.dir); err != nil {
		log.Printf("workspace: remove %s: %v", w.dir, err)
		return fmt.Errorf("workspace: remove: %w", err)
	}
	return nil
}

// SessionOf returns the session id owning a path inside a workspace, or ""
// when path is not inside a session directory.
func SessionOf(path string) string {
	parent := filepath.Base(filepath.Dir(path))
	if !strings.HasPrefix(parent, sessionPrefix) {
		return ""
	}
	return strings.TrimPrefix(parent, sessionPrefix)
}
