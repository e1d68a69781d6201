package fs

import "testing"

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		relPath  string
		isDir    bool
		want     bool
	}{
		{"no patterns matches nothing", nil, "a.txt", false, false},
		{"basename pattern matches anywhere", []string{"*.log"}, "deep/nested/app.log", false, true},
		{"basename pattern misses other names", []string{"*.log"}, "deep/app.txt", false, false},
		{"path pattern matches relative path", []string{"build/*"}, "build/out.bin", false, true},
		{"path pattern misses nested levels", []string{"build/*"}, "other/build/out.bin", false, false},
		{"directory name pattern", []string{".git"}, ".git", true, true},
		{"blank and comment lines are skipped", []string{"", "# temp files", "*.tmp"}, "a.tmp", false, true},
		{"literal name", []string{"Thumbs.db"}, "photos/Thumbs.db", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.Match(tt.relPath, tt.isDir); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relPath, got, tt.want)
			}
		})
	}
}
