// Package ingest turns validated manifests into simulation records.
// All writes for one manifest land in a single store transaction.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/internal/checksum"
	"github.com/simdb-io/simdb/internal/manifest"
	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/internal/uri"
	"github.com/simdb-io/simdb/pkg/core"
)

// Engine ingests manifests into the metadata store.
type Engine struct {
	store   *store.Store
	locator checksum.IMASLocator
	logger  *slog.Logger
}

// New builds an ingestion engine. A nil locator disables IMAS file
// discovery; imas entries are then recorded with their entry checksum
// only.
func New(st *store.Store, locator checksum.IMASLocator, logger *slog.Logger) *Engine {
	if locator == nil {
		locator = checksum.NoopLocator{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: st, locator: locator, logger: logger}
}

// Ingest creates a new simulation from the manifest and returns its
// UUID.
func (e *Engine) Ingest(ctx context.Context, m *manifest.Manifest) (uuid.UUID, error) {
	sim, err := e.build(m)
	if err != nil {
		return uuid.Nil, err
	}
	sim.UUID = uuid.New()

	if err := e.store.InsertSimulation(ctx, sim); err != nil {
		return uuid.Nil, err
	}
	e.recordProvenance(ctx, sim.UUID, sim.Meta)
	e.logger.Info("ingested manifest",
		"simulation", sim.UUID, "alias", sim.Alias,
		"inputs", len(sim.Inputs), "outputs", len(sim.Outputs))
	return sim.UUID, nil
}

// IngestInto merges the manifest into an existing simulation, usually
// a blank one created beforehand.
func (e *Engine) IngestInto(ctx context.Context, simUUID uuid.UUID, m *manifest.Manifest) error {
	sim, err := e.build(m)
	if err != nil {
		return err
	}
	if err := e.store.MergeSimulation(ctx, simUUID, sim.Alias, sim.Meta, sim.Inputs, sim.Outputs); err != nil {
		return err
	}
	e.recordProvenance(ctx, simUUID, sim.Meta)
	e.logger.Info("merged manifest into simulation",
		"simulation", simUUID, "inputs", len(sim.Inputs), "outputs", len(sim.Outputs))
	return nil
}

// build validates the manifest and assembles the simulation content:
// flattened metadata plus checksummed file references.
func (e *Engine) build(m *manifest.Manifest) (*core.Simulation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	tree, err := m.MetadataTree()
	if err != nil {
		return nil, err
	}
	flat := core.FlattenTree(tree)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sim := &core.Simulation{Alias: m.Alias}
	for _, k := range keys {
		sim.Meta = append(sim.Meta, core.MetaEntry{Element: k, Value: flat[k]})
	}

	if sim.Inputs, err = e.resolveFiles(m.Inputs); err != nil {
		return nil, err
	}
	if sim.Outputs, err = e.resolveFiles(m.Outputs); err != nil {
		return nil, err
	}
	return sim, nil
}

// resolveFiles turns manifest URIs into file references. File URIs get
// a payload checksum; imas URIs get a stable entry checksum plus one
// reference per file the locator discovers behind the entry.
func (e *Engine) resolveFiles(raws []string) ([]core.FileRef, error) {
	var refs []core.FileRef
	for _, raw := range raws {
		u, err := uri.Parse(raw)
		if err != nil {
			return nil, err
		}
		switch u.Kind {
		case uri.KindFile:
			sum, err := checksum.File(u.Path)
			if err != nil {
				return nil, fmt.Errorf("checksum %s: %w", u.Path, err)
			}
			refs = append(refs, core.FileRef{
				UUID:     uuid.New(),
				URI:      u.String(),
				Kind:     uri.KindFile,
				Checksum: sum,
			})

		case uri.KindIMAS:
			refs = append(refs, core.FileRef{
				UUID:     uuid.New(),
				URI:      u.String(),
				Kind:     uri.KindIMAS,
				Checksum: checksum.IMASEntry(u.IMAS),
			})
			located, err := e.locator.Locate(u.IMAS)
			if err != nil {
				return nil, fmt.Errorf("locate imas entry %s: %w", u.String(), err)
			}
			for _, lf := range located {
				refs = append(refs, core.FileRef{
					UUID:     uuid.New(),
					URI:      "file://" + lf.Path,
					Kind:     uri.KindFile,
					Checksum: lf.Checksum,
				})
			}
		}
	}
	return refs, nil
}

// recordProvenance appends the ingested metadata as audit records.
// Provenance failures are logged, not surfaced; the ingest itself has
// already committed.
func (e *Engine) recordProvenance(ctx context.Context, simUUID uuid.UUID, meta []core.MetaEntry) {
	for _, m := range meta {
		if err := e.store.AddProvenance(ctx, simUUID, m.Element, m.Value); err != nil {
			e.logger.Warn("failed to record provenance", "simulation", simUUID, "error", err)
			return
		}
	}
}
