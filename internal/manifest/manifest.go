// Package manifest reads and validates the YAML files that describe a
// simulation's inputs, outputs and metadata.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/simdb-io/simdb/internal/uri"
	"github.com/simdb-io/simdb/pkg/core"
)

// SupportedVersion is the only manifest schema currently defined.
const SupportedVersion = 1

// MetaSource is one entry of the manifest's meta list: either an
// inline value tree or a path to an external YAML metadata file.
type MetaSource struct {
	Values map[string]any `yaml:"values,omitempty"`
	Files  string         `yaml:"files,omitempty"`
}

// Manifest is a parsed simulation manifest. Unknown top-level keys in
// the source document are ignored, not rejected.
type Manifest struct {
	Version int          `yaml:"version"`
	Alias   string       `yaml:"alias,omitempty"`
	Inputs  []string     `yaml:"inputs"`
	Outputs []string     `yaml:"outputs"`
	Meta    []MetaSource `yaml:"meta,omitempty"`

	// dir anchors relative external metadata paths.
	dir string
}

// Load reads and parses the manifest at path. The manifest is not yet
// validated; call Validate before ingesting.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes manifest bytes. baseDir anchors relative paths in
// external metadata references.
func Parse(data []byte, baseDir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("badly formatted manifest: %w", err)
	}
	m.dir = baseDir
	return &m, nil
}

// Validate checks the manifest against the version-1 schema. Each
// failure mode reports its own error category.
func (m *Manifest) Validate() error {
	if m.Version != SupportedVersion {
		return fmt.Errorf("%w: %d", core.ErrUnsupportedManifestVersion, m.Version)
	}
	for _, raw := range m.Inputs {
		if _, err := uri.Parse(raw); err != nil {
			return err
		}
	}
	for _, raw := range m.Outputs {
		if _, err := uri.Parse(raw); err != nil {
			return err
		}
	}
	for i, src := range m.Meta {
		if src.Values == nil && src.Files == "" {
			return fmt.Errorf("badly formatted manifest: meta entry %d has neither values nor files", i)
		}
		if src.Values != nil && src.Files != "" {
			return fmt.Errorf("badly formatted manifest: meta entry %d has both values and files", i)
		}
	}
	return nil
}

// MetadataTree assembles the full metadata tree, loading any external
// metadata files and merging them with inline value trees in manifest
// order.
func (m *Manifest) MetadataTree() (map[string]any, error) {
	tree := make(map[string]any)
	for _, src := range m.Meta {
		if src.Values != nil {
			core.MergeTree(tree, src.Values)
			continue
		}
		path := src.Files
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metadata file %s: %w", src.Files, err)
		}
		var values map[string]any
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("failed to read metadata file %s: %w", src.Files, err)
		}
		core.MergeTree(tree, values)
	}
	return tree, nil
}

// Save writes the manifest to path, refusing to overwrite.
func (m *Manifest) Save(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Template returns a skeleton version-1 manifest for `manifest
// create`. The meta entry carries a placeholder key so the written
// file stays a valid manifest; an empty value map would be dropped by
// the encoder and rejected on reload.
func Template() *Manifest {
	return &Manifest{
		Version: SupportedVersion,
		Inputs:  []string{},
		Outputs: []string{},
		Meta: []MetaSource{
			{Values: map[string]any{"description": ""}},
		},
	}
}
