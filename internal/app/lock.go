package app

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// rootLock serializes scans per tracked root across processes. A scan must
// never overlap itself on the same root; two processes scanning different
// roots may run side by side.
type rootLock struct {
	fl *flock.Flock
}

// acquireRootLock takes a non-blocking file lock for the given root path.
// Lock files live under lockDir, named by a digest of the root path so
// arbitrary paths map to valid file names.
func acquireRootLock(lockDir, root string) (*rootLock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	sum := sha256.Sum256([]byte(root))
	lockPath := filepath.Join(lockDir, hex.EncodeToString(sum[:16])+".lock")

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring scan lock for %s: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("a scan of %s is already in progress", root)
	}
	return &rootLock{fl: fl}, nil
}

// release unlocks and removes the lock file.
func (l *rootLock) release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing scan lock: %w", err)
	}
	return os.Remove(l.fl.Path())
}
