package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"fsledger/internal/database/migrations"
	"fsledger/internal/ledger"
	"fsledger/internal/model"
)

// busyAttempts bounds the retry loop for transactions that hit a locked
// database. Each attempt backs off a little longer than the last.
const busyAttempts = 3

// SQLiteStore implements the ledger.Store interface using SQLite.
type SQLiteStore struct {
	db              *sqlx.DB
	path            string
	caseInsensitive bool
}

// NewSQLiteStore opens a SQLite database at path and wraps it in a store.
// path can be a file path or ":memory:" for an in-memory database.
// caseInsensitive switches sibling-name matching to NOCASE collation and
// must stay consistent for the lifetime of a database file.
func NewSQLiteStore(path string, caseInsensitive bool) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path, caseInsensitive: caseInsensitive}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the store depends on. Exported for tools and tests that need a properly
// configured connection.
func OpenConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Foreign keys carry the cascade contract from files to dirs; SQLite
	// ships with them off.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Every pooled connection to ":memory:" would otherwise get its own
	// private database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// fileMatch is the WHERE fragment for file-name comparison. It follows the
// same case-sensitivity setting as sibling matching, so one logical file
// never splits into parallel histories over a case-only rename.
func (s *SQLiteStore) fileMatch() string {
	if s.caseInsensitive {
		return "file_name = ? COLLATE NOCASE"
	}
	return "file_name = ?"
}

// nameMatch is the WHERE fragment for sibling-name comparison.
func (s *SQLiteStore) nameMatch() string {
	if s.caseInsensitive {
		return "dir_name = ? COLLATE NOCASE"
	}
	return "dir_name = ?"
}

// Directory mirror operations

func (s *SQLiteStore) FindRootDir(ctx context.Context, name string) (*model.Dir, error) {
	var dir model.Dir
	query := "SELECT id, parent_dir_id, dir_name FROM dirs WHERE parent_dir_id IS NULL AND " + s.nameMatch()
	err := s.db.GetContext(ctx, &dir, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding root directory: %w", err)
	}
	return &dir, nil
}

func (s *SQLiteStore) FindChildDir(ctx context.Context, parentID int64, name string) (*model.Dir, error) {
	var dir model.Dir
	query := "SELECT id, parent_dir_id, dir_name FROM dirs WHERE parent_dir_id = ? AND " + s.nameMatch()
	err := s.db.GetContext(ctx, &dir, query, parentID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding child directory: %w", err)
	}
	return &dir, nil
}

func (s *SQLiteStore) GetDir(ctx context.Context, id int64) (*model.Dir, error) {
	var dir model.Dir
	err := s.db.GetContext(ctx, &dir, "SELECT id, parent_dir_id, dir_name FROM dirs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding directory by id: %w", err)
	}
	return &dir, nil
}

func (s *SQLiteStore) ChildDirs(ctx context.Context, parentID int64) ([]*model.Dir, error) {
	var dirs []*model.Dir
	err := s.db.SelectContext(ctx, &dirs,
		"SELECT id, parent_dir_id, dir_name FROM dirs WHERE parent_dir_id = ? ORDER BY dir_name", parentID)
	if err != nil {
		return nil, fmt.Errorf("listing child directories: %w", err)
	}
	return dirs, nil
}

// CreateDir inserts a directory row, or returns the existing sibling with
// the same name. The find-and-insert runs in one transaction so concurrent
// scans sharing an ancestor chain never create duplicate siblings.
func (s *SQLiteStore) CreateDir(ctx context.Context, name string, parentID *int64) (*model.Dir, error) {
	var dir *model.Dir
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing model.Dir
		var err error
		if parentID == nil {
			query := "SELECT id, parent_dir_id, dir_name FROM dirs WHERE parent_dir_id IS NULL AND " + s.nameMatch()
			err = tx.GetContext(ctx, &existing, query, name)
		} else {
			query := "SELECT id, parent_dir_id, dir_name FROM dirs WHERE parent_dir_id = ? AND " + s.nameMatch()
			err = tx.GetContext(ctx, &existing, query, *parentID, name)
		}
		if err == nil {
			dir = &existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking for existing sibling: %w", err)
		}

		res, err := tx.ExecContext(ctx, "INSERT INTO dirs (parent_dir_id, dir_name) VALUES (?, ?)", parentID, name)
		if err != nil {
			return fmt.Errorf("inserting directory: %w", mapConstraintErr(err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading inserted directory id: %w", err)
		}
		dir = &model.Dir{ID: id, ParentID: parentID, Name: name}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// RemoveDirTree deletes the directory, every descendant directory, and all
// file versions they own, in one transaction. Descendants are deleted
// deepest-first so the parent references never dangle mid-statement; the
// files and scan_cache rows go with their dirs via ON DELETE CASCADE.
func (s *SQLiteStore) RemoveDirTree(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists, "SELECT 1 FROM dirs WHERE id = ?", id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("directory %d: %w", id, ledger.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("checking directory: %w", err)
		}

		// Breadth-first collection of the subtree, root first.
		ids := []int64{id}
		frontier := []int64{id}
		for len(frontier) > 0 {
			query, args, err := sqlx.In("SELECT id FROM dirs WHERE parent_dir_id IN (?)", frontier)
			if err != nil {
				return fmt.Errorf("building descendant query: %w", err)
			}
			var next []int64
			if err := tx.SelectContext(ctx, &next, query, args...); err != nil {
				return fmt.Errorf("collecting descendants: %w", err)
			}
			ids = append(ids, next...)
			frontier = next
		}

		for i := len(ids) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, "DELETE FROM dirs WHERE id = ?", ids[i]); err != nil {
				return fmt.Errorf("deleting directory %d: %w", ids[i], mapConstraintErr(err))
			}
		}
		return nil
	})
}

// File version ledger operations

func (s *SQLiteStore) LatestVersion(ctx context.Context, dirID int64, name string) (*model.FileVersion, error) {
	var v model.FileVersion
	err := s.db.GetContext(ctx, &v, `
		SELECT id, version, dir_id, file_name, backup_ts, hsh FROM files
		WHERE dir_id = ? AND `+s.fileMatch()+`
		ORDER BY backup_ts DESC, id DESC LIMIT 1`, dirID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest version: %w", err)
	}
	return &v, nil
}

func (s *SQLiteStore) Versions(ctx context.Context, dirID int64, name string) ([]*model.FileVersion, error) {
	var versions []*model.FileVersion
	err := s.db.SelectContext(ctx, &versions, `
		SELECT id, version, dir_id, file_name, backup_ts, hsh FROM files
		WHERE dir_id = ? AND `+s.fileMatch()+`
		ORDER BY backup_ts ASC, id ASC`, dirID, name)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// AppendVersion inserts a new version row, enforcing the
// strictly-increasing-timestamp invariant inside the transaction.
func (s *SQLiteStore) AppendVersion(ctx context.Context, dirID int64, name string, hsh *string, ts time.Time, formatVersion int) (*model.FileVersion, error) {
	var created *model.FileVersion
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists, "SELECT 1 FROM dirs WHERE id = ?", dirID)
		if errors.Is(err, sql.ErrNoRows) {
			return &ledger.IntegrityError{Detail: fmt.Sprintf("file version references missing directory %d", dirID)}
		}
		if err != nil {
			return fmt.Errorf("checking owning directory: %w", err)
		}

		// New rows keep the name the file was first tracked under, so a
		// case-insensitive store grows one history per logical file.
		insertName := name
		var latest struct {
			Name string    `db:"file_name"`
			TS   time.Time `db:"backup_ts"`
		}
		err = tx.GetContext(ctx, &latest, `
			SELECT file_name, backup_ts FROM files WHERE dir_id = ? AND `+s.fileMatch()+`
			ORDER BY backup_ts DESC, id DESC LIMIT 1`, dirID, name)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking latest timestamp: %w", err)
		}
		if err == nil {
			if !ts.After(latest.TS) {
				return &ledger.OutOfOrderError{DirID: dirID, Name: name, Latest: latest.TS, Proposed: ts}
			}
			insertName = latest.Name
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO files (version, dir_id, file_name, backup_ts, hsh)
			VALUES (?, ?, ?, ?, ?)`, formatVersion, dirID, insertName, ts, hsh)
		if err != nil {
			return fmt.Errorf("inserting file version: %w", mapConstraintErr(err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading inserted version id: %w", err)
		}
		created = &model.FileVersion{
			ID:       id,
			Version:  formatVersion,
			DirID:    dirID,
			Name:     insertName,
			BackupTS: ts,
			Hsh:      hsh,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLiteStore) DeleteVersion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting file version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("file version %d: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) TrackedFiles(ctx context.Context, dirID int64) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		"SELECT DISTINCT file_name FROM files WHERE dir_id = ? ORDER BY file_name", dirID)
	if err != nil {
		return nil, fmt.Errorf("listing tracked files: %w", err)
	}
	return names, nil
}

func (s *SQLiteStore) CountDigestRefs(ctx context.Context, hsh string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM files WHERE hsh = ?", hsh); err != nil {
		return 0, fmt.Errorf("counting digest references: %w", err)
	}
	return n, nil
}

// Metadata cache operations

func (s *SQLiteStore) CachedMeta(ctx context.Context, dirID int64, name string) (*model.FileMeta, error) {
	var meta model.FileMeta
	err := s.db.GetContext(ctx, &meta, `
		SELECT dir_id, file_name, size, mtime_ns, hsh FROM scan_cache
		WHERE dir_id = ? AND `+s.fileMatch(), dirID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding cached metadata: %w", err)
	}
	return &meta, nil
}

func (s *SQLiteStore) PutCachedMeta(ctx context.Context, meta *model.FileMeta) error {
	name := meta.Name
	if s.caseInsensitive {
		// The cache key is a binary primary key; reuse the stored spelling
		// so a case-only rename updates the existing entry.
		var existing string
		err := s.db.GetContext(ctx, &existing, `
			SELECT file_name FROM scan_cache
			WHERE dir_id = ? AND file_name = ? COLLATE NOCASE`, meta.DirID, meta.Name)
		if err == nil {
			name = existing
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finding cached metadata entry: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_cache (dir_id, file_name, size, mtime_ns, hsh)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dir_id, file_name)
		DO UPDATE SET size = excluded.size, mtime_ns = excluded.mtime_ns, hsh = excluded.hsh`,
		meta.DirID, name, meta.Size, meta.MtimeNS, meta.Hsh)
	if err != nil {
		return fmt.Errorf("upserting cached metadata: %w", mapConstraintErr(err))
	}
	return nil
}

func (s *SQLiteStore) DeleteCachedMeta(ctx context.Context, dirID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM scan_cache WHERE dir_id = ? AND "+s.fileMatch(), dirID, name)
	if err != nil {
		return fmt.Errorf("deleting cached metadata: %w", err)
	}
	return nil
}

// Scan run journal

func (s *SQLiteStore) CreateScanRun(ctx context.Context, runID, root string, startedAt time.Time) (*model.ScanRun, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (run_id, root, started_at, status)
		VALUES (?, ?, ?, ?)`, runID, root, startedAt, model.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("inserting scan run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading inserted run id: %w", err)
	}
	return &model.ScanRun{
		ID:        id,
		RunID:     runID,
		Root:      root,
		StartedAt: startedAt,
		Status:    model.RunStatusRunning,
	}, nil
}

func (s *SQLiteStore) FinishScanRun(ctx context.Context, id int64, status string, finishedAt time.Time, filesSeen, filesChanged, filesRemoved, dirsRemoved int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET status = ?, finished_at = ?, files_seen = ?, files_changed = ?, files_removed = ?, dirs_removed = ?
		WHERE id = ?`, status, finishedAt, filesSeen, filesChanged, filesRemoved, dirsRemoved, id)
	if err != nil {
		return fmt.Errorf("finishing scan run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListScanRuns(ctx context.Context, limit int) ([]*model.ScanRun, error) {
	var runs []*model.ScanRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, run_id, root, started_at, finished_at, status,
		       files_seen, files_changed, files_removed, dirs_removed
		FROM scan_runs ORDER BY id DESC LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return runs, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db.DB)
}

// MigrateUp brings the database schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.Up(s.db.DB)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withTx runs fn inside a transaction, retrying the whole transaction with
// backoff when the database is locked by a concurrent writer. Typed ledger
// errors pass through unretried.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = s.runTx(ctx, fn)
		if !isBusy(err) {
			return err
		}
	}
	return &ledger.StorageError{Op: "transaction", Err: fmt.Errorf("database busy after %d attempts: %w", busyAttempts, err)}
}

func (s *SQLiteStore) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isBusy reports whether err is a transient lock-contention error.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}

// mapConstraintErr turns SQLite foreign-key violations into a typed
// integrity error; anything else passes through unchanged.
func mapConstraintErr(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return &ledger.IntegrityError{Detail: "constraint violation", Err: err}
	}
	return err
}

// Compile-time check that SQLiteStore implements the ledger.Store interface.
var _ ledger.Store = (*SQLiteStore)(nil)
