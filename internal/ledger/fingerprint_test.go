package ledger

import (
	"strings"
	"testing"
)

func TestFingerprintRegistry(t *testing.T) {
	reg := NewFingerprintRegistry()

	t.Run("current format is xxh3", func(t *testing.T) {
		if got := reg.Current().Version(); got != FormatXXH3 {
			t.Errorf("Current().Version() = %d, want %d", got, FormatXXH3)
		}
	})

	t.Run("legacy md5 digests stay readable", func(t *testing.T) {
		fp, err := reg.ForVersion(FormatMD5)
		if err != nil {
			t.Fatalf("ForVersion(FormatMD5) error = %v", err)
		}
		got, err := fp.Sum(strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		// md5("hello"), base64 standard encoding.
		if want := "XUFAKrxLKna5cZ2REBfFkg=="; got != want {
			t.Errorf("Sum() = %s, want %s", got, want)
		}
	})

	t.Run("xxh3 digests are deterministic 32-char hex", func(t *testing.T) {
		first, err := reg.Current().Sum(strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		second, err := reg.Current().Sum(strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		if first != second {
			t.Errorf("same content hashed to %s and %s", first, second)
		}
		if len(first) != 32 {
			t.Errorf("digest length = %d, want 32", len(first))
		}
		other, err := reg.Current().Sum(strings.NewReader("hello!"))
		if err != nil {
			t.Fatalf("Sum() error = %v", err)
		}
		if other == first {
			t.Error("different content hashed to the same digest")
		}
	})

	t.Run("unknown format version is an error", func(t *testing.T) {
		if _, err := reg.ForVersion(99); err == nil {
			t.Error("ForVersion(99) succeeded")
		}
	})
}
