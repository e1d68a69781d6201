package ledger

import "io"

// BlobStore stores file payloads keyed by their content fingerprint.
// The ledger records only the digest; the blob store is the collaborator
// that owns the bytes. Put must be idempotent per digest.
type BlobStore interface {
	// Put stores content under the given digest.
	Put(digest string, r io.Reader, size int64) error

	// Get streams the content for digest into w.
	// Returns an error wrapping ledger.ErrNotFound when the digest is absent.
	Get(digest string, w io.Writer) error

	// Delete removes the content for digest. Deleting an absent digest is
	// not an error.
	Delete(digest string) error
}
