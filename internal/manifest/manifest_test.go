package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdb-io/simdb/pkg/core"
)

const sampleManifest = `
version: 1
alias: transport-run-42
inputs:
  - file:///data/run42/input.yaml
outputs:
  - imas:?database=iterdb&pulse=1234&run=2&user=jdoe
meta:
  - values:
      publisher: ITER
      workflow:
        name: transport
        commit: abc123
`

func TestParseAndValidate(t *testing.T) {
	m, err := Parse([]byte(sampleManifest), ".")
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "transport-run-42", m.Alias)
	assert.Len(t, m.Inputs, 1)
	assert.Len(t, m.Outputs, 1)

	tree, err := m.MetadataTree()
	require.NoError(t, err)
	flat := core.FlattenTree(tree)
	assert.Equal(t, "ITER", flat["publisher"])
	assert.Equal(t, "transport", flat["workflow.name"])
}

func TestUnknownTopLevelKeysIgnored(t *testing.T) {
	m, err := Parse([]byte("version: 1\nfuture_field: whatever\n"), ".")
	require.NoError(t, err)
	assert.NoError(t, m.Validate())
}

func TestUnsupportedVersion(t *testing.T) {
	m, err := Parse([]byte("version: 2\n"), ".")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Validate(), core.ErrUnsupportedManifestVersion)
}

func TestBadURIs(t *testing.T) {
	m, err := Parse([]byte("version: 1\noutputs:\n  - uda:?signal=x\n"), ".")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Validate(), core.ErrUnsupportedURIScheme)

	m, err = Parse([]byte("version: 1\noutputs:\n  - imas:?run=1\n"), ".")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Validate(), core.ErrMalformedURI)
}

func TestExternalMetadataFiles(t *testing.T) {
	dir := t.TempDir()
	extra := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(extra, []byte("device: iter\nscenario: baseline\n"), 0o600))

	m, err := Parse([]byte("version: 1\nmeta:\n  - files: extra.yaml\n  - values:\n      publisher: ITER\n"), dir)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	tree, err := m.MetadataTree()
	require.NoError(t, err)
	flat := core.FlattenTree(tree)
	assert.Equal(t, "iter", flat["device"])
	assert.Equal(t, "ITER", flat["publisher"])
}

func TestMetaEntryShapeErrors(t *testing.T) {
	m, err := Parse([]byte("version: 1\nmeta:\n  - {}\n"), ".")
	require.NoError(t, err)
	assert.Error(t, m.Validate())
}

func TestTemplateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, Template().Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())

	// The written skeleton must survive reload with its meta entry
	// intact, not collapse to an empty entry Validate rejects.
	require.Len(t, loaded.Meta, 1)
	assert.NotNil(t, loaded.Meta[0].Values)
	tree, err := loaded.MetadataTree()
	require.NoError(t, err)
	assert.Contains(t, tree, "description")
}

func TestSaveRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")

	require.NoError(t, Template().Save(path))
	assert.Error(t, Template().Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, loaded.Validate())
}
