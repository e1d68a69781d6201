package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a directory or file version lookup misses.
// Wrap it with context; match with errors.Is.
var ErrNotFound = errors.New("not found")

// OutOfOrderError is returned by Append when the supplied timestamp is not
// strictly later than the latest recorded version for the same logical file.
// It indicates a clock or concurrency bug and is never retried.
type OutOfOrderError struct {
	DirID    int64
	Name     string
	Latest   time.Time
	Proposed time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order append for file %q in dir %d: proposed %s is not after latest %s",
		e.Name, e.DirID, e.Proposed.Format(time.RFC3339Nano), e.Latest.Format(time.RFC3339Nano))
}

// IntegrityError indicates a referential-integrity violation in the store:
// a file version referencing a missing directory, or an orphaned row. It is
// fatal for the current operation and surfaced to the operator.
type IntegrityError struct {
	Detail string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage integrity violation: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("storage integrity violation: %s", e.Detail)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// StorageError indicates the backing store stayed unavailable through the
// retry budget. Transient lock contention is retried with backoff at the
// transaction boundary before this surfaces.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CycleError is reported when the walker encounters a directory it has
// already visited in the current scan (symlink loop). The offending subtree
// is skipped; the scan continues.
type CycleError struct {
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("directory cycle detected at %s", e.Path)
}

// UnreadableContentError wraps a per-file read failure during fingerprinting.
// The scan records a tombstone for the file and keeps going.
type UnreadableContentError struct {
	Path string
	Err  error
}

func (e *UnreadableContentError) Error() string {
	return fmt.Sprintf("unreadable content at %s: %v", e.Path, e.Err)
}

func (e *UnreadableContentError) Unwrap() error { return e.Err }
