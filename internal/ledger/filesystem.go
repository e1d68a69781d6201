package ledger

import (
	"io"
	"time"
)

// DirEntry describes one entry observed in a live directory.
type DirEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Filesystem provides the filesystem-walk surface the scan engine consumes.
// It abstracts file access to enable testing without touching the real
// filesystem. Only directories and regular files are reported; symlinks,
// devices and other special entries are filtered by implementations.
type Filesystem interface {
	// ReadDir lists the entries of the directory at path.
	ReadDir(path string) ([]DirEntry, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// PhysicalID returns a stable identity for the physical directory at
	// path (device+inode on Unix). The scan engine uses it to detect cycles
	// introduced by symlink loops or bind mounts.
	PhysicalID(path string) (string, error)
}
