package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdb-io/simdb/internal/cli/config"
	"github.com/simdb-io/simdb/pkg/core"
)

// useTestStore points the current configuration at a throwaway sqlite
// database so command runs stay isolated.
func useTestStore(t *testing.T) {
	t.Helper()
	config.SetCurrent(&config.Config{
		Database: config.DatabaseConfig{
			Type: "sqlite",
			File: filepath.Join(t.TempDir(), "simdb.db"),
		},
	})
	t.Cleanup(func() { config.SetCurrent(nil) })
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSimulationLifecycle(t *testing.T) {
	useTestStore(t)

	out, err := run(t, NewSimulationCommand(), "new", "--alias", "fusion-run-42")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.Len(t, id, 36, "new must print the UUID")

	_, err = run(t, NewSimulationCommand(), "modify", "fusion-run-42",
		"--meta", "device=iter", "--meta", "scenario=baseline")
	require.NoError(t, err)

	out, err = run(t, NewSimulationCommand(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "fusion-run-42")
	assert.Contains(t, out, "(1 simulations)")

	// Info resolves the short UUID prefix too.
	out, err = run(t, NewSimulationCommand(), "info", id[:8])
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "device")
	assert.Contains(t, out, "iter")

	out, err = run(t, NewSimulationCommand(), "query", "device=iter", "scenario~base")
	require.NoError(t, err)
	assert.Contains(t, out, "fusion-run-42")

	out, err = run(t, NewSimulationCommand(), "query", "device=jet")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 simulations)")

	_, err = run(t, NewSimulationCommand(), "delete", "fusion-run-42")
	require.NoError(t, err)

	_, err = run(t, NewSimulationCommand(), "info", "fusion-run-42")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSimulationIngest(t *testing.T) {
	useTestStore(t)

	dir := t.TempDir()
	data := filepath.Join(dir, "output.dat")
	require.NoError(t, os.WriteFile(data, []byte("field data"), 0o644))
	manifestPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
version: 1
alias: ingested-run
inputs: []
outputs:
  - file://`+data+`
meta:
  - values:
      device: iter
`), 0o644))

	out, err := run(t, NewSimulationCommand(), "ingest", manifestPath)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.Len(t, id, 36)

	out, err = run(t, NewSimulationCommand(), "info", "ingested-run")
	require.NoError(t, err)
	assert.Contains(t, out, "output.dat")

	// Ingest records the metadata as provenance.
	out, err = run(t, NewSimulationCommand(), "provenance", "ingested-run")
	require.NoError(t, err)
	assert.Contains(t, out, "device")
	assert.Contains(t, out, "iter")
}

func TestManifestCreateAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")

	_, err := run(t, NewManifestCommand(), "create", path)
	require.NoError(t, err)

	out, err := run(t, NewManifestCommand(), "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid manifest")

	// Creating over an existing file is refused.
	_, err = run(t, NewManifestCommand(), "create", path)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 99\n"), 0o644))
	_, err = run(t, NewManifestCommand(), "check", bad)
	assert.ErrorIs(t, err, core.ErrUnsupportedManifestVersion)
}

func TestDatabaseVocabulary(t *testing.T) {
	useTestStore(t)

	_, err := run(t, NewDatabaseCommand(), "cv", "set", "device", "iter", "jet")
	require.NoError(t, err)

	out, err := run(t, NewDatabaseCommand(), "cv", "show", "device")
	require.NoError(t, err)
	assert.Contains(t, out, "iter")
	assert.Contains(t, out, "jet")

	out, err = run(t, NewDatabaseCommand(), "cv", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "device")

	// The vocabulary now gates metadata writes through the CLI.
	_, err = run(t, NewSimulationCommand(), "new", "--alias", "gated")
	require.NoError(t, err)
	_, err = run(t, NewSimulationCommand(), "modify", "gated", "--meta", "device=tokamak-x")
	assert.ErrorIs(t, err, core.ErrVocabularyViolation)
	_, err = run(t, NewSimulationCommand(), "modify", "gated", "--meta", "device=iter")
	require.NoError(t, err)

	_, err = run(t, NewDatabaseCommand(), "cv", "delete", "device")
	require.NoError(t, err)
	_, err = run(t, NewDatabaseCommand(), "cv", "show", "device")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDatabaseClearRequiresForce(t *testing.T) {
	useTestStore(t)

	_, err := run(t, NewDatabaseCommand(), "clear")
	assert.Error(t, err)

	_, err = run(t, NewDatabaseCommand(), "clear", "--force")
	require.NoError(t, err)
}

func TestDatabaseReference(t *testing.T) {
	useTestStore(t)

	_, err := run(t, NewSimulationCommand(), "new", "--alias", "ref-1")
	require.NoError(t, err)
	_, err = run(t, NewSimulationCommand(), "modify", "ref-1",
		"--meta", "device=iter", "--meta", "scenario=baseline",
		"--meta", "plasma.current=15.0")
	require.NoError(t, err)

	out, err := run(t, NewDatabaseCommand(), "reference", "load", "iter", "baseline", "ref-1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 metadata paths")

	out, err = run(t, NewDatabaseCommand(), "reference", "show", "iter", "baseline")
	require.NoError(t, err)
	assert.Contains(t, out, "plasma.current")

	// A run inside the envelope validates clean.
	_, err = run(t, NewSimulationCommand(), "new", "--alias", "candidate")
	require.NoError(t, err)
	_, err = run(t, NewSimulationCommand(), "modify", "candidate",
		"--meta", "device=iter", "--meta", "scenario=baseline",
		"--meta", "plasma.current=15.0")
	require.NoError(t, err)
	out, err = run(t, NewSimulationCommand(), "validate", "candidate")
	require.NoError(t, err)
	assert.Contains(t, out, "PASSED")

	// One far outside fails.
	_, err = run(t, NewSimulationCommand(), "modify", "candidate",
		"--meta", "plasma.current=99.0")
	require.NoError(t, err)
	_, err = run(t, NewSimulationCommand(), "validate", "candidate")
	assert.ErrorIs(t, err, core.ErrValidationFailed)

	_, err = run(t, NewDatabaseCommand(), "reference", "clear", "iter", "baseline")
	require.NoError(t, err)
	_, err = run(t, NewSimulationCommand(), "validate", "candidate")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestParseConstraints(t *testing.T) {
	constraints, err := parseConstraints([]string{"device=iter", "scenario~base"})
	require.NoError(t, err)
	require.Len(t, constraints, 2)
	assert.Equal(t, core.Constraint{Key: "device", Op: core.OpEquals, Value: "iter"}, constraints[0])
	assert.Equal(t, core.Constraint{Key: "scenario", Op: core.OpContains, Value: "base"}, constraints[1])

	_, err = parseConstraints([]string{"no-operator"})
	assert.Error(t, err)
}

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()
	assert.Equal(t, "serve", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("listen"))
}

func TestNewVersionCommand(t *testing.T) {
	out, err := run(t, NewVersionCommand("1.2.3"))
	require.NoError(t, err)
	assert.Contains(t, out, "SimDB v1.2.3")
}
