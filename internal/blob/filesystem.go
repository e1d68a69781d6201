package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fsledger/internal/ledger"
)

// FilesystemStore stores payloads as files named by digest:
//
//	<root>/
//	  payloads/
//	    <digest>
//
// Writes are atomic (temp file + rename), so a crashed upload never leaves a
// partial payload under a valid digest name.
type FilesystemStore struct {
	root       string
	payloadDir string
}

// NewFilesystemStore creates a blob store rooted at the given path.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	payloadDir := filepath.Join(root, "payloads")
	if err := os.MkdirAll(payloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create payload directory: %w", err)
	}
	return &FilesystemStore{root: root, payloadDir: payloadDir}, nil
}

// Put stores content under the given digest.
// Idempotent: an existing payload for the digest is left untouched.
func (s *FilesystemStore) Put(digest string, r io.Reader, size int64) error {
	destPath := filepath.Join(s.payloadDir, digest)

	if _, err := os.Stat(destPath); err == nil {
		// Already stored. Consume the reader so callers see uniform behavior.
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return s.writeFile(destPath, r, size)
}

// Get streams the payload for digest into w.
func (s *FilesystemStore) Get(digest string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.payloadDir, digest))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("payload %s: %w", digest, ledger.ErrNotFound)
		}
		return fmt.Errorf("failed to open payload: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}
	return nil
}

// Delete removes the payload for digest. Absent digests are a no-op.
func (s *FilesystemStore) Delete(digest string) error {
	err := os.Remove(filepath.Join(s.payloadDir, digest))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

// writeFile writes data from r to destPath via a temp file and atomic rename.
func (s *FilesystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Compile-time check that FilesystemStore implements ledger.BlobStore.
var _ ledger.BlobStore = (*FilesystemStore)(nil)
