package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"fsledger/internal/model"
)

// RootSegment is the name of the mirror's root directory row. Every absolute
// path resolves under it; it is the only row with a nil parent reference.
const RootSegment = "/"

// SplitPath breaks a cleaned absolute path into mirror segments, starting
// with RootSegment. "/home/user/docs" becomes ["/", "home", "user", "docs"].
func SplitPath(absPath string) ([]string, error) {
	p := filepath.ToSlash(filepath.Clean(absPath))
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("path is not absolute: %s", absPath)
	}
	segments := []string{RootSegment}
	if p == "/" {
		return segments, nil
	}
	return append(segments, strings.Split(p[1:], "/")...), nil
}

// Resolve walks the path segments from the root, creating directory rows for
// every missing prefix, and returns the final directory. It is idempotent:
// repeated calls with the same segments return the same identity without
// creating duplicates.
func (s *Service) Resolve(ctx context.Context, segments []string) (*model.Dir, error) {
	cur, err := s.resolveRoot(ctx, segments, true)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments[1:] {
		cur, err = s.resolveChild(ctx, cur, seg)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Lookup walks the path segments without creating anything.
// Returns an error wrapping ErrNotFound when any segment is missing.
func (s *Service) Lookup(ctx context.Context, segments []string) (*model.Dir, error) {
	cur, err := s.resolveRoot(ctx, segments, false)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments[1:] {
		next, err := s.store.FindChildDir(ctx, cur.ID, seg)
		if err != nil {
			return nil, fmt.Errorf("looking up directory %q: %w", seg, err)
		}
		if next == nil {
			return nil, fmt.Errorf("directory %q under dir %d: %w", seg, cur.ID, ErrNotFound)
		}
		cur = next
	}
	return cur, nil
}

func (s *Service) resolveRoot(ctx context.Context, segments []string, create bool) (*model.Dir, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	if segments[0] != RootSegment {
		return nil, fmt.Errorf("path does not start at the root segment: %q", segments[0])
	}
	for _, seg := range segments[1:] {
		if seg == "" || strings.Contains(seg, "/") {
			return nil, fmt.Errorf("invalid path segment: %q", seg)
		}
	}

	root, err := s.store.FindRootDir(ctx, RootSegment)
	if err != nil {
		return nil, fmt.Errorf("looking up root directory: %w", err)
	}
	if root != nil {
		return root, nil
	}
	if !create {
		return nil, fmt.Errorf("root directory: %w", ErrNotFound)
	}
	root, err = s.store.CreateDir(ctx, RootSegment, nil)
	if err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return root, nil
}

// resolveChild finds the named child of parent, creating it when absent.
func (s *Service) resolveChild(ctx context.Context, parent *model.Dir, name string) (*model.Dir, error) {
	child, err := s.store.FindChildDir(ctx, parent.ID, name)
	if err != nil {
		return nil, fmt.Errorf("looking up directory %q: %w", name, err)
	}
	if child != nil {
		return child, nil
	}
	child, err = s.store.CreateDir(ctx, name, &parent.ID)
	if err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", name, err)
	}
	return child, nil
}

// Children returns the immediate subdirectories of dir.
func (s *Service) Children(ctx context.Context, dir *model.Dir) ([]*model.Dir, error) {
	children, err := s.store.ChildDirs(ctx, dir.ID)
	if err != nil {
		return nil, fmt.Errorf("listing children of dir %d: %w", dir.ID, err)
	}
	return children, nil
}

// Remove deletes dir, all descendant directories, and every file version
// they own, as a single atomic unit.
func (s *Service) Remove(ctx context.Context, dir *model.Dir) error {
	if err := s.store.RemoveDirTree(ctx, dir.ID); err != nil {
		return fmt.Errorf("removing directory tree %d: %w", dir.ID, err)
	}
	s.logger.Info("directory removed", "dir_id", dir.ID, "name", dir.Name)
	return nil
}

// LookupPath resolves an absolute directory path without creating anything.
func (s *Service) LookupPath(ctx context.Context, absPath string) (*model.Dir, error) {
	segments, err := SplitPath(absPath)
	if err != nil {
		return nil, err
	}
	return s.Lookup(ctx, segments)
}
