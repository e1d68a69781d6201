package model

import "time"

// Dir represents one filesystem directory in the mirror.
// Name is a single path segment; the full path is recovered by following
// ParentID up to the root row (ParentID == nil).
type Dir struct {
	ID       int64  `db:"id"`
	ParentID *int64 `db:"parent_dir_id"`
	Name     string `db:"dir_name"`
}

// FileVersion is one snapshot of a file's content at a point in time.
// Rows are append-only; within a (DirID, Name) group timestamps are strictly
// increasing and consecutive fingerprints always differ.
type FileVersion struct {
	ID int64 `db:"id"`
	// Version tags the fingerprint format that produced this row, not the
	// content revision. See ledger.Fingerprinter.
	Version  int       `db:"version"`
	DirID    int64     `db:"dir_id"`
	Name     string    `db:"file_name"`
	BackupTS time.Time `db:"backup_ts"`
	// Hsh is nil for tombstones (file vanished or content was unreadable).
	Hsh *string `db:"hsh"`
}

// IsTombstone reports whether this row records the file's absence (or
// unreadable content) rather than a concrete fingerprint.
func (v *FileVersion) IsTombstone() bool { return v.Hsh == nil }

// FileMeta is the engine-side cheap-change-detection cache entry for one
// tracked file. It lives outside the compatibility tables; losing it only
// costs a rehash on the next scan.
type FileMeta struct {
	DirID   int64  `db:"dir_id"`
	Name    string `db:"file_name"`
	Size    int64  `db:"size"`
	MtimeNS int64  `db:"mtime_ns"`
	Hsh     string `db:"hsh"`
}

// ScanRun records one reconciliation pass over a root.
type ScanRun struct {
	ID           int64      `db:"id"`
	RunID        string     `db:"run_id"` // UUID
	Root         string     `db:"root"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	Status       string     `db:"status"`
	FilesSeen    int64      `db:"files_seen"`
	FilesChanged int64      `db:"files_changed"`
	FilesRemoved int64      `db:"files_removed"`
	DirsRemoved  int64      `db:"dirs_removed"`
}

// ScanRun status values.
const (
	RunStatusRunning = "running"
	RunStatusOK      = "ok"
	RunStatusFailed  = "failed"
)
