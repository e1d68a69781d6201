package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"fsledger/internal/model"
)

// Latest returns the most recent version row for a logical file, or nil if
// the file has never been tracked.
func (s *Service) Latest(ctx context.Context, dir *model.Dir, name string) (*model.FileVersion, error) {
	v, err := s.store.LatestVersion(ctx, dir.ID, name)
	if err != nil {
		return nil, fmt.Errorf("loading latest version of %q: %w", name, err)
	}
	return v, nil
}

// History returns every version row for a logical file, oldest first.
// Ordering is unambiguous: timestamps are strictly increasing by
// construction.
func (s *Service) History(ctx context.Context, dir *model.Dir, name string) ([]*model.FileVersion, error) {
	versions, err := s.store.Versions(ctx, dir.ID, name)
	if err != nil {
		return nil, fmt.Errorf("loading history of %q: %w", name, err)
	}
	return versions, nil
}

// Append records a new version row. hsh is nil for a tombstone. The caller
// decides whether an append is warranted; the ledger enforces only the
// strictly-increasing-timestamp invariant.
func (s *Service) Append(ctx context.Context, dir *model.Dir, name string, hsh *string, ts time.Time) (*model.FileVersion, error) {
	v, err := s.store.AppendVersion(ctx, dir.ID, name, hsh, ts, CurrentFormat)
	if err != nil {
		return nil, fmt.Errorf("appending version of %q: %w", name, err)
	}
	return v, nil
}

// LatestAt resolves an absolute file path and returns its latest version.
func (s *Service) LatestAt(ctx context.Context, absFilePath string) (*model.FileVersion, error) {
	dir, name, err := s.lookupParent(ctx, absFilePath)
	if err != nil {
		return nil, err
	}
	v, err := s.Latest(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("file %q: %w", absFilePath, ErrNotFound)
	}
	return v, nil
}

// HistoryAt resolves an absolute file path and returns its full history,
// oldest first.
func (s *Service) HistoryAt(ctx context.Context, absFilePath string) ([]*model.FileVersion, error) {
	dir, name, err := s.lookupParent(ctx, absFilePath)
	if err != nil {
		return nil, err
	}
	versions, err := s.History(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("file %q: %w", absFilePath, ErrNotFound)
	}
	return versions, nil
}

func (s *Service) lookupParent(ctx context.Context, absFilePath string) (*model.Dir, string, error) {
	name := filepath.Base(absFilePath)
	if name == "/" || name == "." {
		return nil, "", fmt.Errorf("not a file path: %s", absFilePath)
	}
	dir, err := s.LookupPath(ctx, filepath.Dir(absFilePath))
	if err != nil {
		return nil, "", err
	}
	return dir, name, nil
}
