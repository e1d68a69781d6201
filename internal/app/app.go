package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"fsledger/internal/blob"
	"fsledger/internal/config"
	"fsledger/internal/database"
	"fsledger/internal/fs"
	"fsledger/internal/ledger"
	"fsledger/internal/model"
)

// App is the application layer between the CLI and the ledger service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the store lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   *database.SQLiteStore
	blobs   ledger.BlobStore
	fsys    ledger.Filesystem
	logger  ledger.Logger
	logFile *os.File
	// base service for query operations; scans build per-root services so
	// each root gets its own ignore rules.
	service *ledger.Service
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(cfg *config.Config, verbose bool) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database, cfg.Scan.CaseInsensitive)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date (run `fsledger db migrate`): %w", err)
	}

	blobs, err := blob.NewStoreFromConfig(cfg.Blob)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	slogger, logFile, err := newLogger(cfg.LogDir, verbose)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	fsys := fs.NewOSFilesystem()
	a := &App{
		cfg:     cfg,
		store:   store,
		blobs:   blobs,
		fsys:    fsys,
		logger:  logger,
		logFile: logFile,
	}
	a.service = a.newService(nil)
	return a, nil
}

// newService builds a ledger.Service sharing the app's dependencies, with
// the given ignore predicate.
func (a *App) newService(ignore func(relPath string, isDir bool) bool) *ledger.Service {
	return ledger.NewService(a.store, a.fsys, a.blobs, a.logger, ledger.RealClock{}, ledger.UUIDGenerator{}, ledger.Options{
		Workers:         a.cfg.Scan.Workers,
		AlwaysRehash:    a.cfg.Scan.AlwaysRehash,
		MaxVersions:     a.cfg.Scan.MaxVersions,
		CaseInsensitive: a.cfg.Scan.CaseInsensitive,
		Ignore:          ignore,
	})
}

// ScanAll reconciles every configured root. Roots are scanned concurrently;
// each root is protected by its own process-wide lock file.
func (a *App) ScanAll(ctx context.Context) ([]*ledger.ScanReport, error) {
	if len(a.cfg.Roots) == 0 {
		return nil, fmt.Errorf("no roots configured")
	}

	reports := make([]*ledger.ScanReport, len(a.cfg.Roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range a.cfg.Roots {
		i, root := i, root
		g.Go(func() error {
			rep, err := a.scanRoot(gctx, root)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// ScanPath reconciles a single path. When the path is a configured root its
// per-root ignore rules apply.
func (a *App) ScanPath(ctx context.Context, rawPath string) (*ledger.ScanReport, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	rootCfg := config.RootConfig{Path: absPath}
	for _, r := range a.cfg.Roots {
		if filepath.Clean(r.Path) == absPath {
			rootCfg = r
			break
		}
	}
	return a.scanRoot(ctx, rootCfg)
}

func (a *App) scanRoot(ctx context.Context, root config.RootConfig) (*ledger.ScanReport, error) {
	absPath, err := filepath.Abs(root.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	lock, err := acquireRootLock(filepath.Join(a.cfg.BaseDir, "locks"), absPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		// A lock file that fails to release blocks the next scan of this
		// root, so the failure must at least reach the log.
		if rerr := lock.release(); rerr != nil {
			a.logger.Warn("releasing scan lock", "root", absPath, "error", rerr)
		}
	}()

	matcher := fs.NewIgnoreMatcher(append(append([]string{}, a.cfg.Scan.Ignore...), root.Ignore...))
	svc := a.newService(matcher.Match)
	return svc.Scan(ctx, absPath)
}

// Latest returns the most recent version record for the file at rawPath.
func (a *App) Latest(ctx context.Context, rawPath string) (*model.FileVersion, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.LatestAt(ctx, absPath)
}

// History returns all version records for the file at rawPath, oldest first.
func (a *App) History(ctx context.Context, rawPath string) ([]*model.FileVersion, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.HistoryAt(ctx, absPath)
}

// Children lists the mirrored subdirectories of the directory at rawPath.
func (a *App) Children(ctx context.Context, rawPath string) ([]*model.Dir, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	dir, err := a.service.LookupPath(ctx, absPath)
	if err != nil {
		return nil, err
	}
	return a.service.Children(ctx, dir)
}

// RemoveDir drops the directory at rawPath from the mirror, cascading to
// all descendant directories and their version records.
func (a *App) RemoveDir(ctx context.Context, rawPath string) error {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	dir, err := a.service.LookupPath(ctx, absPath)
	if err != nil {
		return err
	}
	return a.service.Remove(ctx, dir)
}

// Runs returns the most recent scan runs, newest first.
func (a *App) Runs(ctx context.Context, limit int) ([]*model.ScanRun, error) {
	return a.service.Runs(ctx, limit)
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = err
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
