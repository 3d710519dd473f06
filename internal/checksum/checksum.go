// Package checksum computes BLAKE3 checksums for file payloads and
// defines the locator used to expand IMAS entries into concrete files.
package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// File returns the hex BLAKE3-256 checksum of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Reader(f)
}

// Reader returns the hex BLAKE3-256 checksum of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the hex BLAKE3-256 checksum of data.
func Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
