package ledger

import (
	"context"
	"time"

	"fsledger/internal/model"
)

// Store provides an interface for mirror and ledger persistence.
// Implementations must keep referential integrity between directories and
// file versions at every write path, and must make RemoveDirTree and
// AppendVersion individually atomic.
type Store interface {
	// Directory mirror operations

	// FindRootDir returns the root directory row (nil parent) with the given
	// name, or nil if it does not exist.
	FindRootDir(ctx context.Context, name string) (*model.Dir, error)

	// FindChildDir returns the child of parentID with the given name, or nil.
	// Name matching honors the store's case-sensitivity setting.
	FindChildDir(ctx context.Context, parentID int64, name string) (*model.Dir, error)

	// GetDir returns the directory with the given id, or nil.
	GetDir(ctx context.Context, id int64) (*model.Dir, error)

	// ChildDirs returns all immediate children of parentID.
	ChildDirs(ctx context.Context, parentID int64) ([]*model.Dir, error)

	// CreateDir inserts a directory row. parentID is nil for a root.
	CreateDir(ctx context.Context, name string, parentID *int64) (*model.Dir, error)

	// RemoveDirTree deletes the directory, all descendant directories, and
	// every file version they own, in a single transaction.
	// Returns ledger.ErrNotFound if the directory does not exist.
	RemoveDirTree(ctx context.Context, id int64) error

	// File version ledger operations

	// LatestVersion returns the most recent version row for (dirID, name),
	// or nil if the file has never been tracked.
	LatestVersion(ctx context.Context, dirID int64, name string) (*model.FileVersion, error)

	// Versions returns every version row for (dirID, name), oldest first.
	Versions(ctx context.Context, dirID int64, name string) ([]*model.FileVersion, error)

	// AppendVersion inserts a new version row. hsh is nil for a tombstone.
	// Fails with *ledger.OutOfOrderError when ts is not strictly later than
	// the current latest for (dirID, name), and with *ledger.IntegrityError
	// when dirID does not exist.
	AppendVersion(ctx context.Context, dirID int64, name string, hsh *string, ts time.Time, formatVersion int) (*model.FileVersion, error)

	// DeleteVersion removes a single version row by id (retention pruning).
	DeleteVersion(ctx context.Context, id int64) error

	// TrackedFiles returns the distinct file names with at least one version
	// row under dirID.
	TrackedFiles(ctx context.Context, dirID int64) ([]string, error)

	// CountDigestRefs returns how many version rows reference the digest.
	CountDigestRefs(ctx context.Context, hsh string) (int64, error)

	// Metadata cache operations

	// CachedMeta returns the cached size/mtime/digest for (dirID, name),
	// or nil on a cache miss.
	CachedMeta(ctx context.Context, dirID int64, name string) (*model.FileMeta, error)

	// PutCachedMeta upserts the cache entry for (meta.DirID, meta.Name).
	PutCachedMeta(ctx context.Context, meta *model.FileMeta) error

	// DeleteCachedMeta drops the cache entry for (dirID, name), if any.
	DeleteCachedMeta(ctx context.Context, dirID int64, name string) error

	// Scan run journal

	CreateScanRun(ctx context.Context, runID, root string, startedAt time.Time) (*model.ScanRun, error)
	FinishScanRun(ctx context.Context, id int64, status string, finishedAt time.Time, filesSeen, filesChanged, filesRemoved, dirsRemoved int64) error
	ListScanRuns(ctx context.Context, limit int) ([]*model.ScanRun, error)

	// Close closes the underlying storage.
	Close() error
}
