package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fsledger/internal/ledger"
)

// OSFilesystem is the real filesystem implementation of ledger.Filesystem.
// Directory symlinks are followed, so a symlink loop on disk is possible;
// the scan engine breaks loops with PhysicalID.
type OSFilesystem struct{}

// NewOSFilesystem creates a walker that operates on the real filesystem.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{}
}

// ReadDir lists directories and regular files under path. Entries that are
// neither (devices, sockets, pipes) and entries whose target cannot be
// statted (broken symlinks) are skipped.
func (m *OSFilesystem) ReadDir(path string) ([]ledger.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}

	result := make([]ledger.DirEntry, 0, len(entries))
	for _, entry := range entries {
		// Stat, not Lstat: symlinks are resolved to their targets.
		info, err := os.Stat(filepath.Join(path, entry.Name()))
		if err != nil {
			continue
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		result = append(result, ledger.DirEntry{
			Name:    entry.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}

// Open opens a regular file for reading.
func (m *OSFilesystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Compile-time check that OSFilesystem implements ledger.Filesystem.
var _ ledger.Filesystem = (*OSFilesystem)(nil)
