package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fsledger/internal/model"
)

// ScanReport summarizes one reconciliation pass over a root.
type ScanReport struct {
	RunID        string
	Root         string
	StartedAt    time.Time
	FinishedAt   time.Time
	FilesSeen    int64
	FilesChanged int64
	FilesRemoved int64
	DirsRemoved  int64
	// SkippedCycles lists subtree paths skipped because the walker had
	// already visited the same physical directory in this scan.
	SkippedCycles []string
}

// scanState carries mutable per-scan bookkeeping across walk goroutines.
type scanState struct {
	runTS        time.Time
	visited      map[string]bool // physical dir IDs seen this scan
	filesSeen    atomic.Int64
	filesChanged atomic.Int64
	filesRemoved atomic.Int64
	dirsRemoved  atomic.Int64

	mu      sync.Mutex
	skipped []string
}

// Scan reconciles the live filesystem tree under root against the mirror and
// the ledger. One scan per root at a time; the caller enforces that. The
// scan is idempotent: re-running it after an interruption converges to the
// same end state, because unchanged files are skipped and already-resolved
// directories are returned, not recreated.
func (s *Service) Scan(ctx context.Context, root string) (*ScanReport, error) {
	root = filepath.Clean(root)
	segments, err := SplitPath(root)
	if err != nil {
		return nil, err
	}

	st := &scanState{
		runTS:   s.clock.Now(),
		visited: make(map[string]bool),
	}
	run, err := s.store.CreateScanRun(ctx, s.idgen.New(), root, st.runTS)
	if err != nil {
		return nil, fmt.Errorf("recording scan run: %w", err)
	}
	s.logger.Info("scan started", "run_id", run.RunID, "root", root)

	dir, err := s.Resolve(ctx, segments)
	if err == nil {
		err = s.scanDir(ctx, root, root, dir, st)
	}

	status := model.RunStatusOK
	if err != nil {
		status = model.RunStatusFailed
	}
	finished := s.clock.Now()
	if ferr := s.store.FinishScanRun(ctx, run.ID, status, finished,
		st.filesSeen.Load(), st.filesChanged.Load(), st.filesRemoved.Load(), st.dirsRemoved.Load()); ferr != nil {
		s.logger.Error("finishing scan run", "run_id", run.RunID, "error", ferr)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	rep := &ScanReport{
		RunID:         run.RunID,
		Root:          root,
		StartedAt:     st.runTS,
		FinishedAt:    finished,
		FilesSeen:     st.filesSeen.Load(),
		FilesChanged:  st.filesChanged.Load(),
		FilesRemoved:  st.filesRemoved.Load(),
		DirsRemoved:   st.dirsRemoved.Load(),
		SkippedCycles: st.skipped,
	}
	s.logger.Info("scan finished", "run_id", rep.RunID,
		"files_seen", rep.FilesSeen, "files_changed", rep.FilesChanged,
		"files_removed", rep.FilesRemoved, "dirs_removed", rep.DirsRemoved)
	return rep, nil
}

// scanDir reconciles one directory: its files in parallel, then tombstones
// for vanished files, then removal of vanished subdirectories, and finally a
// sequential descent into the live subdirectories.
func (s *Service) scanDir(ctx context.Context, root, dirPath string, dir *model.Dir, st *scanState) error {
	physID, err := s.fs.PhysicalID(dirPath)
	if err != nil {
		return fmt.Errorf("resolving physical identity of %s: %w", dirPath, err)
	}
	if st.visited[physID] {
		cerr := &CycleError{Path: dirPath}
		s.logger.Warn("skipping subtree", "error", cerr)
		st.mu.Lock()
		st.skipped = append(st.skipped, dirPath)
		st.mu.Unlock()
		return nil
	}
	st.visited[physID] = true

	entries, err := s.fs.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", dirPath, err)
	}

	seenFiles := make(map[string]bool)
	seenDirs := make(map[string]bool)
	var files, subdirs []DirEntry
	for _, ent := range entries {
		rel, err := filepath.Rel(root, filepath.Join(dirPath, ent.Name))
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		if s.opts.Ignore != nil && s.opts.Ignore(rel, ent.IsDir) {
			continue
		}
		if ent.IsDir {
			seenDirs[s.nameKey(ent.Name)] = true
			subdirs = append(subdirs, ent)
		} else {
			seenFiles[s.nameKey(ent.Name)] = true
			files = append(files, ent)
		}
	}

	// Each file's fingerprint-compare-append sequence is one bounded unit of
	// work. Units never share a (dir, name), so version ordering per logical
	// file is preserved.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, ent := range files {
		ent := ent
		g.Go(func() error {
			return s.reconcileFile(gctx, dir, dirPath, ent, st)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.tombstoneVanished(ctx, dir, seenFiles, st); err != nil {
		return err
	}
	if err := s.removeVanishedDirs(ctx, dir, seenDirs, st); err != nil {
		return err
	}

	for _, ent := range subdirs {
		child, err := s.resolveChild(ctx, dir, ent.Name)
		if err != nil {
			return err
		}
		if err := s.scanDir(ctx, root, filepath.Join(dirPath, ent.Name), child, st); err != nil {
			return err
		}
	}
	return nil
}

// reconcileFile decides whether one file needs a new version row and appends
// it when content changed. Unreadable files are recorded as tombstones so a
// single bad file never aborts the scan.
func (s *Service) reconcileFile(ctx context.Context, dir *model.Dir, dirPath string, ent DirEntry, st *scanState) error {
	st.filesSeen.Add(1)
	fullPath := filepath.Join(dirPath, ent.Name)

	latest, err := s.store.LatestVersion(ctx, dir.ID, ent.Name)
	if err != nil {
		return fmt.Errorf("loading latest version of %s: %w", fullPath, err)
	}

	// Cheap pre-check: when size and mtime match the cached values recorded
	// with the latest digest, skip fingerprinting entirely.
	if !s.opts.AlwaysRehash && latest != nil && latest.Hsh != nil {
		meta, err := s.store.CachedMeta(ctx, dir.ID, ent.Name)
		if err != nil {
			return fmt.Errorf("loading cached metadata of %s: %w", fullPath, err)
		}
		if meta != nil && meta.Size == ent.Size && meta.MtimeNS == ent.ModTime.UnixNano() && meta.Hsh == *latest.Hsh {
			return nil
		}
	}

	// Compare against the stored digest using the fingerprinter that wrote
	// it. Rows from older engine generations keep their format until the
	// content actually changes.
	var curDigest string
	if latest != nil && latest.Hsh != nil {
		fp, ferr := s.registry.ForVersion(latest.Version)
		if ferr != nil {
			s.logger.Warn("stored row has unknown fingerprint format, treating file as changed",
				"path", fullPath, "format", latest.Version)
		} else {
			digest, herr := s.fingerprintFile(fullPath, fp)
			if herr != nil {
				return s.recordUnreadable(ctx, dir, ent.Name, fullPath, latest, st, herr)
			}
			if digest == *latest.Hsh {
				// Unchanged: no write to the ledger, just refresh the cache.
				return s.refreshMeta(ctx, dir.ID, ent.Name, ent, digest)
			}
			if fp.Version() == CurrentFormat {
				curDigest = digest
			}
		}
	}

	if curDigest == "" {
		curDigest, err = s.fingerprintFile(fullPath, s.registry.Current())
		if err != nil {
			return s.recordUnreadable(ctx, dir, ent.Name, fullPath, latest, st, err)
		}
	}

	// Hand the payload to the blob store before the ledger row is written.
	// Blob puts are idempotent by digest, so a crash between the two steps
	// leaves at worst an unreferenced blob, never a dangling ledger row.
	if s.blobs != nil {
		if err := s.storePayload(fullPath, curDigest, ent.Size); err != nil {
			return err
		}
	}

	if _, err := s.store.AppendVersion(ctx, dir.ID, ent.Name, &curDigest, st.runTS, CurrentFormat); err != nil {
		return fmt.Errorf("appending version of %s: %w", fullPath, err)
	}
	st.filesChanged.Add(1)
	s.logger.Debug("version recorded", "path", fullPath, "digest", curDigest)

	if err := s.refreshMeta(ctx, dir.ID, ent.Name, ent, curDigest); err != nil {
		return err
	}

	if s.opts.MaxVersions > 0 {
		if err := s.pruneVersions(ctx, dir, ent.Name); err != nil {
			return err
		}
	}
	return nil
}

// recordUnreadable logs a per-file read failure and records a tombstone,
// unless the latest version already is one.
func (s *Service) recordUnreadable(ctx context.Context, dir *model.Dir, name, fullPath string, latest *model.FileVersion, st *scanState, cause error) error {
	uerr := &UnreadableContentError{Path: fullPath, Err: cause}
	s.logger.Warn("recording degraded entry", "error", uerr)

	if latest != nil && latest.IsTombstone() {
		return nil
	}
	if _, err := s.store.AppendVersion(ctx, dir.ID, name, nil, st.runTS, CurrentFormat); err != nil {
		return fmt.Errorf("recording tombstone for %s: %w", fullPath, err)
	}
	if err := s.store.DeleteCachedMeta(ctx, dir.ID, name); err != nil {
		return fmt.Errorf("dropping cached metadata of %s: %w", fullPath, err)
	}
	st.filesChanged.Add(1)
	return nil
}

// tombstoneVanished appends a null-fingerprint row for every tracked file
// that was not seen on disk in this pass. History stays intact; the
// tombstone only marks the absence.
func (s *Service) tombstoneVanished(ctx context.Context, dir *model.Dir, seenFiles map[string]bool, st *scanState) error {
	tracked, err := s.store.TrackedFiles(ctx, dir.ID)
	if err != nil {
		return fmt.Errorf("listing tracked files of dir %d: %w", dir.ID, err)
	}
	for _, name := range tracked {
		if seenFiles[s.nameKey(name)] {
			continue
		}
		latest, err := s.store.LatestVersion(ctx, dir.ID, name)
		if err != nil {
			return fmt.Errorf("loading latest version of %q: %w", name, err)
		}
		if latest == nil || latest.IsTombstone() {
			continue
		}
		if _, err := s.store.AppendVersion(ctx, dir.ID, name, nil, st.runTS, CurrentFormat); err != nil {
			return fmt.Errorf("recording tombstone for %q: %w", name, err)
		}
		if err := s.store.DeleteCachedMeta(ctx, dir.ID, name); err != nil {
			return fmt.Errorf("dropping cached metadata of %q: %w", name, err)
		}
		st.filesRemoved.Add(1)
		s.logger.Info("file vanished", "dir_id", dir.ID, "name", name)
	}
	return nil
}

// removeVanishedDirs cascade-removes mirror subdirectories that no longer
// exist on disk.
func (s *Service) removeVanishedDirs(ctx context.Context, dir *model.Dir, seenDirs map[string]bool, st *scanState) error {
	children, err := s.store.ChildDirs(ctx, dir.ID)
	if err != nil {
		return fmt.Errorf("listing children of dir %d: %w", dir.ID, err)
	}
	for _, child := range children {
		if seenDirs[s.nameKey(child.Name)] {
			continue
		}
		if err := s.store.RemoveDirTree(ctx, child.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return fmt.Errorf("removing vanished directory %q: %w", child.Name, err)
		}
		st.dirsRemoved.Add(1)
		s.logger.Info("directory vanished", "dir_id", child.ID, "name", child.Name)
	}
	return nil
}

// pruneVersions enforces the retention cap for one logical file, evicting
// payloads whose digest is no longer referenced by any row.
func (s *Service) pruneVersions(ctx context.Context, dir *model.Dir, name string) error {
	versions, err := s.store.Versions(ctx, dir.ID, name)
	if err != nil {
		return fmt.Errorf("loading history of %q: %w", name, err)
	}
	for len(versions) > s.opts.MaxVersions {
		victim := versions[0]
		if err := s.store.DeleteVersion(ctx, victim.ID); err != nil {
			return fmt.Errorf("pruning version %d: %w", victim.ID, err)
		}
		versions = versions[1:]
		if victim.Hsh == nil || s.blobs == nil {
			continue
		}
		refs, err := s.store.CountDigestRefs(ctx, *victim.Hsh)
		if err != nil {
			return fmt.Errorf("counting digest references: %w", err)
		}
		if refs == 0 {
			if err := s.blobs.Delete(*victim.Hsh); err != nil {
				return fmt.Errorf("evicting payload %s: %w", *victim.Hsh, err)
			}
		}
	}
	return nil
}

func (s *Service) refreshMeta(ctx context.Context, dirID int64, name string, ent DirEntry, digest string) error {
	err := s.store.PutCachedMeta(ctx, &model.FileMeta{
		DirID:   dirID,
		Name:    name,
		Size:    ent.Size,
		MtimeNS: ent.ModTime.UnixNano(),
		Hsh:     digest,
	})
	if err != nil {
		return fmt.Errorf("caching metadata of %q: %w", name, err)
	}
	return nil
}

func (s *Service) fingerprintFile(path string, fp Fingerprinter) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return fp.Sum(f)
}

func (s *Service) storePayload(path, digest string, size int64) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for payload upload: %w", path, err)
	}
	defer f.Close()
	if err := s.blobs.Put(digest, f, size); err != nil {
		return fmt.Errorf("storing payload of %s: %w", path, err)
	}
	return nil
}

// nameKey normalizes a name for seen-set membership per the configured
// case sensitivity.
func (s *Service) nameKey(name string) string {
	if s.opts.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

// Runs returns the most recent scan runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]*model.ScanRun, error) {
	runs, err := s.store.ListScanRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return runs, nil
}
