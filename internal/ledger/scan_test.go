package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"fsledger/internal/blob"
	"fsledger/internal/ledger"
	"fsledger/internal/model"
	"fsledger/internal/testutil"
)

// scanEnv bundles the collaborators a scan test needs.
type scanEnv struct {
	svc   *ledger.Service
	store ledger.Store
	fs    *testutil.MockFilesystem
	blobs *blob.MemoryStore
	clock *testutil.StubClock
}

func newScanEnv(t *testing.T, opts ledger.Options) *scanEnv {
	t.Helper()
	store := testutil.NewTestStore(t)
	mfs := testutil.NewMockFilesystem()
	blobs := blob.NewMemoryStore()
	clock := testutil.FixedClock()
	svc := ledger.NewService(store, mfs, blobs, ledger.NewNopLogger(), clock, testutil.NewStubIDGenerator(), opts)
	return &scanEnv{svc: svc, store: store, fs: mfs, blobs: blobs, clock: clock}
}

func digestOf(t *testing.T, content []byte) string {
	t.Helper()
	d, err := ledger.NewFingerprintRegistry().Current().Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("fingerprinting: %v", err)
	}
	return d
}

func TestService_Scan(t *testing.T) {
	ctx := context.Background()

	t.Run("first scan records one version per file", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))

		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if rep.FilesSeen != 1 || rep.FilesChanged != 1 {
			t.Errorf("report = seen %d changed %d, want 1 and 1", rep.FilesSeen, rep.FilesChanged)
		}

		versions, err := env.svc.HistoryAt(ctx, "/data/docs/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 1 {
			t.Fatalf("history length = %d, want 1", len(versions))
		}
		want := digestOf(t, []byte("v1"))
		if versions[0].Hsh == nil || *versions[0].Hsh != want {
			t.Errorf("digest = %v, want %s", versions[0].Hsh, want)
		}
		if versions[0].Version != ledger.CurrentFormat {
			t.Errorf("format = %d, want %d", versions[0].Version, ledger.CurrentFormat)
		}
		if !versions[0].BackupTS.Equal(rep.StartedAt) {
			t.Errorf("backup ts = %s, want run start %s", versions[0].BackupTS, rep.StartedAt)
		}
	})

	t.Run("rescan of unchanged file writes nothing", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}
		env.clock.Advance(time.Hour)
		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}
		if rep.FilesChanged != 0 {
			t.Errorf("changed = %d, want 0", rep.FilesChanged)
		}

		versions, err := env.svc.HistoryAt(ctx, "/data/docs/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 1 {
			t.Errorf("history length = %d, want 1", len(versions))
		}
	})

	t.Run("changed content appends a second version", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}

		env.clock.Advance(time.Hour)
		env.fs.AddFile("/data/docs/a.txt", []byte("v2"))
		env.fs.SetModTime("/data/docs/a.txt", env.clock.Now())

		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}
		if rep.FilesChanged != 1 {
			t.Errorf("changed = %d, want 1", rep.FilesChanged)
		}

		versions, err := env.svc.HistoryAt(ctx, "/data/docs/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("history length = %d, want 2", len(versions))
		}
		if !versions[0].BackupTS.Before(versions[1].BackupTS) {
			t.Errorf("timestamps not increasing: %s then %s", versions[0].BackupTS, versions[1].BackupTS)
		}
		if *versions[0].Hsh != digestOf(t, []byte("v1")) || *versions[1].Hsh != digestOf(t, []byte("v2")) {
			t.Errorf("digests = %s, %s", *versions[0].Hsh, *versions[1].Hsh)
		}
	})

	t.Run("vanished file gets exactly one tombstone", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}

		env.fs.Remove("/data/docs/a.txt")
		env.clock.Advance(time.Hour)
		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}
		if rep.FilesRemoved != 1 {
			t.Errorf("removed = %d, want 1", rep.FilesRemoved)
		}

		versions, err := env.svc.HistoryAt(ctx, "/data/docs/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 2 || !versions[1].IsTombstone() {
			t.Fatalf("want history of 2 ending in tombstone, got %d rows", len(versions))
		}

		// A third scan must not stack another tombstone.
		env.clock.Advance(time.Hour)
		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("third Scan() error = %v", err)
		}
		versions, err = env.svc.HistoryAt(ctx, "/data/docs/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 2 {
			t.Errorf("history length after third scan = %d, want 2", len(versions))
		}
	})

	t.Run("file reappearing after tombstone gets a new version", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}
		env.fs.Remove("/data/docs/a.txt")
		env.clock.Advance(time.Hour)
		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}

		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))
		env.fs.SetModTime("/data/docs/a.txt", env.clock.Now())
		env.clock.Advance(time.Hour)
		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("third Scan() error = %v", err)
		}

		versions, err := env.svc.HistoryAt(ctx, "/data/docs/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 3 {
			t.Fatalf("history length = %d, want 3", len(versions))
		}
		if versions[1].Hsh != nil || versions[2].Hsh == nil {
			t.Errorf("want tombstone then concrete digest, got %v then %v", versions[1].Hsh, versions[2].Hsh)
		}
	})

	t.Run("vanished directory is removed with its history", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/docs/a.txt", []byte("v1"))
		env.fs.AddFile("/data/keep.txt", []byte("keep"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}

		env.fs.Remove("/data/docs")
		env.clock.Advance(time.Hour)
		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}
		if rep.DirsRemoved != 1 {
			t.Errorf("dirs removed = %d, want 1", rep.DirsRemoved)
		}

		if _, err := env.svc.LookupPath(ctx, "/data/docs"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("LookupPath(/data/docs) error = %v, want ErrNotFound", err)
		}
		if _, err := env.svc.LatestAt(ctx, "/data/keep.txt"); err != nil {
			t.Errorf("sibling file lost: %v", err)
		}
	})

	t.Run("unreadable file gets a tombstone and the scan continues", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/bad.txt", []byte("secret"))
		env.fs.AddFile("/data/good.txt", []byte("fine"))
		env.fs.SetUnreadable("/data/bad.txt")

		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if rep.FilesSeen != 2 {
			t.Errorf("seen = %d, want 2", rep.FilesSeen)
		}

		bad, err := env.svc.LatestAt(ctx, "/data/bad.txt")
		if err != nil {
			t.Fatalf("LatestAt(bad) error = %v", err)
		}
		if !bad.IsTombstone() {
			t.Errorf("unreadable file latest = %v, want tombstone", bad.Hsh)
		}
		good, err := env.svc.LatestAt(ctx, "/data/good.txt")
		if err != nil {
			t.Fatalf("LatestAt(good) error = %v", err)
		}
		if good.IsTombstone() {
			t.Error("readable sibling recorded as tombstone")
		}
	})

	t.Run("directory cycle is skipped once", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/real/a.txt", []byte("v1"))
		env.fs.AddDir("/data/real/loop")
		env.fs.SetPhysicalID("/data/real/loop", "/data/real")

		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if len(rep.SkippedCycles) != 1 || rep.SkippedCycles[0] != "/data/real/loop" {
			t.Errorf("skipped = %v, want [/data/real/loop]", rep.SkippedCycles)
		}
		if rep.FilesSeen != 1 {
			t.Errorf("seen = %d, want 1", rep.FilesSeen)
		}
	})

	t.Run("ignored entries are not tracked or descended", func(t *testing.T) {
		ignore := func(relPath string, isDir bool) bool {
			return relPath == "skip.log" || relPath == "cache"
		}
		env := newScanEnv(t, ledger.Options{Ignore: ignore})
		env.fs.AddFile("/data/skip.log", []byte("noise"))
		env.fs.AddFile("/data/cache/blob", []byte("noise"))
		env.fs.AddFile("/data/keep.txt", []byte("v1"))

		rep, err := env.svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if rep.FilesSeen != 1 {
			t.Errorf("seen = %d, want 1", rep.FilesSeen)
		}
		if _, err := env.svc.LatestAt(ctx, "/data/skip.log"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("ignored file tracked anyway: %v", err)
		}
	})

	t.Run("retention cap prunes oldest versions and unreferenced payloads", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{MaxVersions: 2})
		contents := [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")}
		for i, c := range contents {
			env.fs.AddFile("/data/a.txt", c)
			env.fs.SetModTime("/data/a.txt", env.clock.Now())
			if _, err := env.svc.Scan(ctx, "/data"); err != nil {
				t.Fatalf("scan %d error = %v", i+1, err)
			}
			env.clock.Advance(time.Hour)
		}

		versions, err := env.svc.HistoryAt(ctx, "/data/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("history length = %d, want 2", len(versions))
		}
		if *versions[0].Hsh != digestOf(t, []byte("v2")) {
			t.Errorf("oldest surviving digest = %s, want v2's", *versions[0].Hsh)
		}
		if env.blobs.Len() != 2 {
			t.Errorf("blob count = %d, want 2 after eviction", env.blobs.Len())
		}
	})

	t.Run("payloads land in the blob store keyed by digest", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/a.txt", []byte("payload bytes"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}

		var buf bytes.Buffer
		if err := env.blobs.Get(digestOf(t, []byte("payload bytes")), &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "payload bytes" {
			t.Errorf("payload = %q", buf.String())
		}
	})

	t.Run("case-insensitive rename is not a removal", func(t *testing.T) {
		store := testutil.NewCaseInsensitiveTestStore(t)
		mfs := testutil.NewMockFilesystem()
		clock := testutil.FixedClock()
		svc := ledger.NewService(store, mfs, nil, ledger.NewNopLogger(), clock, testutil.NewStubIDGenerator(),
			ledger.Options{CaseInsensitive: true})

		mfs.AddFile("/data/a.txt", []byte("v1"))
		if _, err := svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}

		mfs.Remove("/data/a.txt")
		mfs.AddFile("/data/A.TXT", []byte("v1"))
		clock.Advance(time.Hour)
		rep, err := svc.Scan(ctx, "/data")
		if err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}
		if rep.FilesRemoved != 0 {
			t.Errorf("removed = %d, want 0 for case-only rename", rep.FilesRemoved)
		}
		if rep.FilesChanged != 0 {
			t.Errorf("changed = %d, want 0 for unchanged content", rep.FilesChanged)
		}

		// Both spellings resolve to the same single-row history; the rename
		// must not have opened a second parallel history.
		for _, p := range []string{"/data/a.txt", "/data/A.TXT"} {
			versions, err := svc.HistoryAt(ctx, p)
			if err != nil {
				t.Fatalf("HistoryAt(%s) error = %v", p, err)
			}
			if len(versions) != 1 {
				t.Errorf("history length at %s = %d, want 1", p, len(versions))
			}
		}
	})

	t.Run("case-only rename with changed content extends the one history", func(t *testing.T) {
		store := testutil.NewCaseInsensitiveTestStore(t)
		mfs := testutil.NewMockFilesystem()
		clock := testutil.FixedClock()
		svc := ledger.NewService(store, mfs, nil, ledger.NewNopLogger(), clock, testutil.NewStubIDGenerator(),
			ledger.Options{CaseInsensitive: true})

		mfs.AddFile("/data/a.txt", []byte("v1"))
		if _, err := svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("first Scan() error = %v", err)
		}

		mfs.Remove("/data/a.txt")
		mfs.AddFile("/data/A.TXT", []byte("v2"))
		mfs.SetModTime("/data/A.TXT", clock.Now())
		clock.Advance(time.Hour)
		if _, err := svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}

		versions, err := svc.HistoryAt(ctx, "/data/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("history length = %d, want 2", len(versions))
		}
		// The new row keeps the name the file was first tracked under.
		if versions[1].Name != "a.txt" {
			t.Errorf("new row name = %s, want a.txt", versions[1].Name)
		}
	})

	t.Run("legacy format rows are compared with their own fingerprinter", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		content := []byte("hello")
		env.fs.AddFile("/data/a.txt", content)

		// Seed a row the way an older engine generation would have written it.
		dir, err := env.svc.Resolve(ctx, mustSplit(t, "/data"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		legacy := "XUFAKrxLKna5cZ2REBfFkg==" // md5("hello"), base64
		seedTS := env.clock.Now().Add(-24 * time.Hour)
		if _, err := env.store.AppendVersion(ctx, dir.ID, "a.txt", &legacy, seedTS, ledger.FormatMD5); err != nil {
			t.Fatalf("seeding legacy row: %v", err)
		}

		// Unchanged content must not produce a new row even though the
		// stored digest is in the legacy format.
		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		versions, err := env.svc.HistoryAt(ctx, "/data/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 1 {
			t.Fatalf("history length = %d, want 1", len(versions))
		}

		// Changed content produces a current-format row.
		env.fs.AddFile("/data/a.txt", []byte("changed"))
		env.fs.SetModTime("/data/a.txt", env.clock.Now())
		env.clock.Advance(time.Hour)
		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("second Scan() error = %v", err)
		}
		versions, err = env.svc.HistoryAt(ctx, "/data/a.txt")
		if err != nil {
			t.Fatalf("HistoryAt() error = %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("history length = %d, want 2", len(versions))
		}
		if versions[1].Version != ledger.CurrentFormat {
			t.Errorf("new row format = %d, want %d", versions[1].Version, ledger.CurrentFormat)
		}
		if *versions[1].Hsh != digestOf(t, []byte("changed")) {
			t.Errorf("new digest = %s", *versions[1].Hsh)
		}
	})

	t.Run("scan runs are journaled", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})
		env.fs.AddFile("/data/a.txt", []byte("v1"))

		if _, err := env.svc.Scan(ctx, "/data"); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}

		runs, err := env.svc.Runs(ctx, 10)
		if err != nil {
			t.Fatalf("Runs() error = %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("runs = %d, want 1", len(runs))
		}
		run := runs[0]
		if run.Status != model.RunStatusOK {
			t.Errorf("status = %s, want %s", run.Status, model.RunStatusOK)
		}
		if run.RunID != "run-1" {
			t.Errorf("run id = %s, want run-1", run.RunID)
		}
		if run.FinishedAt == nil {
			t.Error("finished_at not recorded")
		}
		if run.FilesSeen != 1 || run.FilesChanged != 1 {
			t.Errorf("counters = seen %d changed %d, want 1 and 1", run.FilesSeen, run.FilesChanged)
		}
	})

	t.Run("failed scan is journaled as failed", func(t *testing.T) {
		env := newScanEnv(t, ledger.Options{})

		// Root does not exist in the mock filesystem.
		if _, err := env.svc.Scan(ctx, "/missing"); err == nil {
			t.Fatal("Scan() of missing root succeeded")
		}

		runs, err := env.svc.Runs(ctx, 10)
		if err != nil {
			t.Fatalf("Runs() error = %v", err)
		}
		if len(runs) != 1 || runs[0].Status != model.RunStatusFailed {
			t.Fatalf("want one failed run, got %+v", runs)
		}
	})
}

func mustSplit(t *testing.T, path string) []string {
	t.Helper()
	segments, err := ledger.SplitPath(path)
	if err != nil {
		t.Fatalf("SplitPath(%s) error = %v", path, err)
	}
	return segments
}
