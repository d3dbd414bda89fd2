// Package tempfile implements the temp-file manager: the single owner
// of every temp file created while parsing multipart request bodies
// (the server keeps one Manager for all its requests). Every path it hands out is
// guaranteed removed by Cleanup, across every exit path (parse error,
// fatal recovery, or normal request completion for files the host never
// moved).
package tempfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Manager owns a set of on-disk paths created via Create and guarantees
// their removal unless the caller explicitly Releases (moves) them.
type Manager struct {
	dir string

	mu     sync.Mutex
	owned  map[string]struct{}
	closed bool
}

// New returns a Manager that creates files under dir (os.TempDir() if
// dir is empty).
func New(dir string) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Manager{dir: dir, owned: make(map[string]struct{})}
}

// Create opens a new temp file, tracks it, and returns a writer plus its
// path. The file is named evhttp-upload-<uuid>-<name>, with name
// reduced to a safe base name; the uuid makes the path collision-free.
func (m *Manager) Create(name string) (io.WriteCloser, string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, "", fmt.Errorf("tempfile: manager closed")
	}
	m.mu.Unlock()

	base := sanitizeBase(name)
	path := filepath.Join(m.dir, fmt.Sprintf("evhttp-upload-%s-%s", uuid.NewString(), base))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.owned[path] = struct{}{}
	m.mu.Unlock()
	return f, path, nil
}

// Release stops tracking path (the caller has taken ownership, e.g. via
// MoveTo) without removing it.
func (m *Manager) Release(path string) {
	m.mu.Lock()
	delete(m.owned, path)
	m.mu.Unlock()
}

// RemovePath deletes path and stops tracking it, if still owned — the
// per-request cleanup for uploads the host never moved. A path already
// released via Release is left alone.
func (m *Manager) RemovePath(path string) {
	m.mu.Lock()
	_, owned := m.owned[path]
	delete(m.owned, path)
	m.mu.Unlock()
	if owned {
		os.Remove(path)
	}
}

// Cleanup removes every currently-tracked path. Safe to call multiple
// times; already-removed files are ignored.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.owned))
	for p := range m.owned {
		paths = append(paths, p)
	}
	m.owned = make(map[string]struct{})
	m.mu.Unlock()

	for _, p := range paths {
		os.Remove(p)
	}
}

// Close cleans up every tracked path and marks the manager unusable for
// further Create calls.
func (m *Manager) Close() {
	m.Cleanup()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func sanitizeBase(name string) string {
	base := filepath.Base(name)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "file"
	}
	clean := make([]byte, 0, len(base))
	for i := 0; i < len(base); i++ {
		c := base[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return "file"
	}
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return string(clean)
}
