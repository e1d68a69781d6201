package fs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystem(t *testing.T) {
	t.Run("lists directories and regular files", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
			t.Fatal(err)
		}

		fsys := NewOSFilesystem()
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(entries))
		}

		byName := map[string]bool{}
		for _, e := range entries {
			byName[e.Name] = e.IsDir
			if e.Name == "a.txt" && e.Size != 5 {
				t.Errorf("a.txt size = %d, want 5", e.Size)
			}
		}
		if byName["a.txt"] || !byName["sub"] {
			t.Errorf("entry kinds wrong: %v", byName)
		}
	})

	t.Run("skips broken symlinks", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "dangling")); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}

		entries, err := NewOSFilesystem().ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("entries = %v, want none", entries)
		}
	})

	t.Run("opens files for reading", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.txt")
		if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
			t.Fatal(err)
		}

		f, err := NewOSFilesystem().Open(path)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		if string(data) != "content" {
			t.Errorf("content = %q", data)
		}
	})

	t.Run("physical identity is stable and distinct", func(t *testing.T) {
		dir := t.TempDir()
		sub := filepath.Join(dir, "sub")
		if err := os.Mkdir(sub, 0755); err != nil {
			t.Fatal(err)
		}

		fsys := NewOSFilesystem()
		first, err := fsys.PhysicalID(dir)
		if err != nil {
			t.Fatalf("PhysicalID() error = %v", err)
		}
		again, err := fsys.PhysicalID(dir)
		if err != nil {
			t.Fatalf("PhysicalID() error = %v", err)
		}
		if first != again {
			t.Errorf("identity changed between calls: %s, %s", first, again)
		}
		other, err := fsys.PhysicalID(sub)
		if err != nil {
			t.Fatalf("PhysicalID() error = %v", err)
		}
		if other == first {
			t.Error("two directories share a physical identity")
		}
	})

	t.Run("symlinked directory resolves to its target identity", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "target")
		if err := os.Mkdir(target, 0755); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(dir, "link")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}

		fsys := NewOSFilesystem()
		targetID, err := fsys.PhysicalID(target)
		if err != nil {
			t.Fatalf("PhysicalID(target) error = %v", err)
		}
		linkID, err := fsys.PhysicalID(link)
		if err != nil {
			t.Fatalf("PhysicalID(link) error = %v", err)
		}
		if targetID != linkID {
			t.Errorf("symlink identity %s differs from target %s", linkID, targetID)
		}
	})
}
