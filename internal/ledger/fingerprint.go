package ledger

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

// Format version constants for files.version. The tag records which
// fingerprint algorithm produced a row, so digests from different engine
// generations are never compared to each other byte-for-byte blind.
const (
	// FormatMD5 is the legacy format: MD5 digest, base64 standard encoding.
	FormatMD5 = 1
	// FormatXXH3 is the current format: XXH3-128 digest, lowercase hex.
	FormatXXH3 = 2

	// CurrentFormat is the version written on every new row.
	CurrentFormat = FormatXXH3
)

// Fingerprinter maps file content bytes to a fixed-size digest string.
// Two files with equal digests are treated as identical content.
type Fingerprinter interface {
	// Version is the format tag this fingerprinter writes and reads.
	Version() int
	// Sum consumes r to EOF and returns the digest string.
	Sum(r io.Reader) (string, error)
}

type md5Fingerprinter struct{}

func (md5Fingerprinter) Version() int { return FormatMD5 }

func (md5Fingerprinter) Sum(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

type xxh3Fingerprinter struct{}

func (xxh3Fingerprinter) Version() int { return FormatXXH3 }

func (xxh3Fingerprinter) Sum(r io.Reader) (string, error) {
	h := xxh3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintRegistry resolves format versions to fingerprinters. The read
// path uses it to interpret digests written by older engine generations.
type FingerprintRegistry struct {
	byVersion map[int]Fingerprinter
}

// NewFingerprintRegistry returns a registry with all known formats.
func NewFingerprintRegistry() *FingerprintRegistry {
	return &FingerprintRegistry{
		byVersion: map[int]Fingerprinter{
			FormatMD5:  md5Fingerprinter{},
			FormatXXH3: xxh3Fingerprinter{},
		},
	}
}

// Current returns the fingerprinter for CurrentFormat.
func (r *FingerprintRegistry) Current() Fingerprinter {
	return r.byVersion[CurrentFormat]
}

// ForVersion returns the fingerprinter for a stored format tag.
func (r *FingerprintRegistry) ForVersion(version int) (Fingerprinter, error) {
	fp, ok := r.byVersion[version]
	if !ok {
		return nil, fmt.Errorf("unknown fingerprint format version %d", version)
	}
	return fp, nil
}
