package ledger

import (
	"github.com/google/uuid"
)

// IDGenerator abstracts unique ID generation so tests are deterministic.
// It is used for scan run IDs; mirror and ledger rows use store-assigned
// integer identities.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Options tunes the scan/reconciliation engine.
type Options struct {
	// Workers bounds the number of concurrent per-file fingerprint units.
	// Values below 1 are treated as 1.
	Workers int

	// AlwaysRehash disables the size/mtime pre-check cache and fingerprints
	// every file on every scan.
	AlwaysRehash bool

	// MaxVersions caps the number of retained version rows per logical file.
	// Zero means unlimited.
	MaxVersions int

	// CaseInsensitive makes sibling name matching case-insensitive. It must
	// agree with the store's collation setting.
	CaseInsensitive bool

	// Ignore, when set, filters walk entries by path relative to the scan
	// root. Ignored directories are not descended into.
	Ignore func(relPath string, isDir bool) bool
}

// Service is the orchestration layer for the directory mirror, the file
// version ledger, and the scan/reconciliation engine. It is safe for
// concurrent use as long as scans of the same root do not overlap; the app
// layer enforces that with per-root lock files.
type Service struct {
	store    Store
	fs       Filesystem
	blobs    BlobStore // nil when payload storage is not configured
	registry *FingerprintRegistry
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     Options
}

// NewService creates a Service with the provided dependencies.
// blobs may be nil; fingerprints are then recorded without payload hand-off.
func NewService(store Store, fs Filesystem, blobs BlobStore, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Service{
		store:    store,
		fs:       fs,
		blobs:    blobs,
		registry: NewFingerprintRegistry(),
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}
