package testutil

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"fsledger/internal/ledger"
)

// MockFile represents a file or directory in the mock filesystem.
type MockFile struct {
	Content    []byte
	ModTime    time.Time
	IsDir      bool
	Unreadable bool
	// PhysicalID overrides the default identity. Point two directories at
	// the same ID to simulate a symlink loop or bind mount.
	PhysicalID string
}

// MockFilesystem is an in-memory ledger.Filesystem for testing.
// Safe for concurrent use.
type MockFilesystem struct {
	mu    sync.Mutex
	files map[string]*MockFile
	now   time.Time
}

// NewMockFilesystem creates an empty mock filesystem.
func NewMockFilesystem() *MockFilesystem {
	return &MockFilesystem{
		files: make(map[string]*MockFile),
		now:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// AddFile adds a regular file, creating parent directories as needed.
func (m *MockFilesystem) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDirs(filepath.Dir(path))
	m.files[filepath.Clean(path)] = &MockFile{
		Content: content,
		ModTime: m.now,
	}
}

// AddDir adds a directory, creating parents as needed.
func (m *MockFilesystem) AddDir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDirs(filepath.Clean(path))
}

// Remove deletes the entry at path and everything below it.
func (m *MockFilesystem) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clean := filepath.Clean(path)
	delete(m.files, clean)
	prefix := clean + string(filepath.Separator)
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
}

// SetUnreadable marks the file at path so Open fails.
func (m *MockFilesystem) SetUnreadable(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[filepath.Clean(path)]; ok {
		f.Unreadable = true
	}
}

// SetModTime sets the mtime of the entry at path.
func (m *MockFilesystem) SetModTime(path string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[filepath.Clean(path)]; ok {
		f.ModTime = t
	}
}

// SetPhysicalID overrides the physical identity of the directory at path.
func (m *MockFilesystem) SetPhysicalID(path, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[filepath.Clean(path)]; ok {
		f.PhysicalID = id
	}
}

// addDirs creates path and all its ancestors as directories.
// Caller holds the lock.
func (m *MockFilesystem) addDirs(path string) {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if f, ok := m.files[p]; ok && f.IsDir {
			break
		}
		m.files[p] = &MockFile{IsDir: true, ModTime: m.now}
		if p == filepath.Dir(p) {
			break
		}
	}
}

func (m *MockFilesystem) ReadDir(path string) ([]ledger.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clean := filepath.Clean(path)
	dir, ok := m.files[clean]
	if !ok || !dir.IsDir {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	var entries []ledger.DirEntry
	prefix := clean + string(filepath.Separator)
	if clean == string(filepath.Separator) {
		prefix = clean
	}
	for p, f := range m.files {
		if !strings.HasPrefix(p, prefix) || p == clean {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, string(filepath.Separator)) {
			continue
		}
		entries = append(entries, ledger.DirEntry{
			Name:    rest,
			IsDir:   f.IsDir,
			Size:    int64(len(f.Content)),
			ModTime: f.ModTime,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *MockFilesystem) Open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[filepath.Clean(path)]
	if !ok || f.IsDir {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	if f.Unreadable {
		return nil, fmt.Errorf("open %s: permission denied", path)
	}
	return io.NopCloser(bytes.NewReader(f.Content)), nil
}

func (m *MockFilesystem) PhysicalID(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clean := filepath.Clean(path)
	f, ok := m.files[clean]
	if !ok {
		return "", fmt.Errorf("no such path: %s", path)
	}
	if f.PhysicalID != "" {
		return f.PhysicalID, nil
	}
	return clean, nil
}

var _ ledger.Filesystem = (*MockFilesystem)(nil)
