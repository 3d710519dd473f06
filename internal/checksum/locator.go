package checksum

import (
	"fmt"

	"github.com/simdb-io/simdb/internal/uri"
)

// LocatedFile is one concrete file discovered for an IMAS entry.
type LocatedFile struct {
	Path     string
	Checksum string
}

// IMASLocator resolves an imas URI to the concrete files that back it.
// The storage backend owns this knowledge; ingestion treats the lookup
// as opaque and records whatever comes back.
type IMASLocator interface {
	Locate(query uri.IMASQuery) ([]LocatedFile, error)
}

// NoopLocator is the default locator for installations without an IMAS
// backend. It returns no files, so imas entries are recorded with
// their URI checksum only.
type NoopLocator struct{}

func (NoopLocator) Locate(uri.IMASQuery) ([]LocatedFile, error) {
	return nil, nil
}

// IMASEntry returns the stable checksum recorded for an imas entry
// itself, derived from its canonical identifying parameters.
func IMASEntry(q uri.IMASQuery) string {
	return Bytes(fmt.Appendf(nil, "%s/%d/%d/%s", q.Database, q.Pulse, q.Run, q.User))
}
