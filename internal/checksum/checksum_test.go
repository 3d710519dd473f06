package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simdb-io/simdb/internal/uri"
)

func TestBytesAndReaderAgree(t *testing.T) {
	data := []byte("equilibrium output payload")

	fromBytes := Bytes(data)
	fromReader, err := Reader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("reader checksum failed: %v", err)
	}

	if fromBytes != fromReader {
		t.Errorf("checksums differ: %s vs %s", fromBytes, fromReader)
	}
	if len(fromBytes) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(fromBytes))
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.dat")
	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}

	sum, err := File(path)
	if err != nil {
		t.Fatalf("file checksum failed: %v", err)
	}
	if sum != Bytes([]byte("abc")) {
		t.Error("file checksum should match bytes checksum")
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIMASEntryStable(t *testing.T) {
	q := uri.IMASQuery{Database: "iterdb", Pulse: 1234, Run: 2, User: "jdoe"}
	if IMASEntry(q) != IMASEntry(q) {
		t.Error("imas entry checksum should be deterministic")
	}
	other := q
	other.Run = 3
	if IMASEntry(q) == IMASEntry(other) {
		t.Error("different runs should yield different checksums")
	}
}
