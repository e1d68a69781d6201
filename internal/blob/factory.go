package blob

import (
	"fmt"

	"fsledger/internal/config"
	"fsledger/internal/ledger"
)

// NewStoreFromConfig creates a BlobStore based on the blob config type.
// Returns (nil, nil) for type "none": the scan then records fingerprints
// without payload hand-off.
func NewStoreFromConfig(cfg config.BlobConfig) (ledger.BlobStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		return NewFilesystemStore(cfg.FSRoot)
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
