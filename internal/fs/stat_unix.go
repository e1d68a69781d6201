//go:build unix

package fs

import (
	"fmt"
	"os"
	"syscall"
)

// PhysicalID returns "device:inode" for the directory at path. Two paths
// with the same ID are the same physical directory, however many symlinks
// sit between them.
func (m *OSFilesystem) PhysicalID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", fmt.Errorf("cannot extract stat data for %s: expected *syscall.Stat_t, got %T", path, info.Sys())
	}
	return fmt.Sprintf("%d:%d", stat.Dev, stat.Ino), nil
}
