package syncer

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdb-io/simdb/internal/checksum"
	"github.com/simdb-io/simdb/internal/refval"
	"github.com/simdb-io/simdb/internal/remote"
	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

const remoteName = "itervault"

type staticCreds struct{ user, pass string }

func (c staticCreds) Credentials(string) (string, string, error) {
	return c.user, c.pass, nil
}

type fixture struct {
	local    *store.Store
	remoteDB *store.Store
	client   *remote.Client
	syncer   *Syncer
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()

	open := func() *store.Store {
		st, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"})
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	}
	local, remoteDB := open(), open()

	srv := remote.NewServer(remote.ServerConfig{
		Store:       remoteDB,
		UploadDir:   t.TempDir(),
		Credentials: remote.StaticPasswordValidator("hunter2"),
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	client, err := remote.NewClient(remote.ClientOptions{BaseURL: ts.URL})
	require.NoError(t, err)

	validator := refval.New(local, nil)
	sync := New(local, staticCreds{"alice", "hunter2"}, validator, opts, nil)
	return &fixture{local: local, remoteDB: remoteDB, client: client, syncer: sync}
}

func localSimWithFile(t *testing.T, st *store.Store, meta map[string]string) (uuid.UUID, string) {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "output.dat")
	require.NoError(t, os.WriteFile(path, []byte("field data"), 0o644))
	sum, err := checksum.File(path)
	require.NoError(t, err)

	id, err := st.CreateSimulation(ctx)
	require.NoError(t, err)
	require.NoError(t, st.PutMetadata(ctx, id, meta))
	require.NoError(t, st.AttachFile(ctx, id, core.FileRef{
		URI: "file://" + path, Kind: "file", Checksum: sum,
	}, core.RoleOutput))
	return id, path
}

func TestSyncer_PushAcquiresTokenOnDemand(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	id, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})

	// The client starts with no token; the credential provider fills
	// the gap mid-push.
	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, id))

	state, err := f.syncer.State(ctx, id, remoteName)
	require.NoError(t, err)
	assert.Equal(t, core.SyncRemoteStaged, state)

	pushed, err := f.remoteDB.GetSimulation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStaged, pushed.Status)

	local, err := f.local.GetSimulation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStaged, local.Status)
}

func TestSyncer_PushResumes(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	id, path := localSimWithFile(t, f.local, map[string]string{"device": "iter"})

	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, id))
	// A second push is a clean no-op: metadata is idempotent and the
	// remote already holds every payload.
	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, id))

	_ = path
	state, err := f.syncer.State(ctx, id, remoteName)
	require.NoError(t, err)
	assert.Equal(t, core.SyncRemoteStaged, state)
}

func TestSyncer_PushMetadataFailureLeavesLocalOnly(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	id, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})

	// The remote is unreachable, so the push dies in the metadata
	// phase. Nothing reached the remote, so the simulation must stay
	// local-only rather than push-pending.
	dead, err := remote.NewClient(remote.ClientOptions{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	err = f.syncer.Push(ctx, dead, remoteName, id)
	require.ErrorIs(t, err, core.ErrNetwork)

	state, err := f.syncer.State(ctx, id, remoteName)
	require.NoError(t, err)
	assert.Equal(t, core.SyncLocalOnly, state)
}

func TestSyncer_PublishLifecycle(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	id, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})
	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, id))
	require.NoError(t, f.syncer.Publish(ctx, f.client, remoteName, id))

	state, err := f.syncer.State(ctx, id, remoteName)
	require.NoError(t, err)
	assert.Equal(t, core.SyncRemotePublished, state)

	remoteSim, err := f.remoteDB.GetSimulation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPublished, remoteSim.Status)

	localSim, err := f.local.GetSimulation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPublished, localSim.Status)
}

func TestSyncer_PublishRequiresPush(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	id, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})
	err := f.syncer.Publish(ctx, f.client, remoteName, id)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestSyncer_PushReplacesDeprecatesOnPublish(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	oldID, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})
	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, oldID))
	require.NoError(t, f.syncer.Publish(ctx, f.client, remoteName, oldID))

	newID, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})
	require.NoError(t, f.syncer.PushReplaces(ctx, f.client, remoteName, newID, oldID))
	require.NoError(t, f.syncer.Publish(ctx, f.client, remoteName, newID))

	oldRemote, err := f.remoteDB.GetSimulation(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeprecated, oldRemote.Status)

	newRemote, err := f.remoteDB.GetSimulation(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPublished, newRemote.Status)
	assert.Equal(t, oldID, newRemote.Replaces)

	oldLocal, err := f.local.GetSimulation(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeprecated, oldLocal.Status)

	oldState, err := f.syncer.State(ctx, oldID, remoteName)
	require.NoError(t, err)
	assert.Equal(t, core.SyncRemoteDeprecated, oldState)
}

func TestSyncer_ValidationGatesPublish(t *testing.T) {
	f := setup(t, Options{AutoValidate: true, ErrorOnFail: true})
	ctx := context.Background()

	// One reference run defines the baseline envelope.
	refID, _ := localSimWithFile(t, f.local, map[string]string{
		"device": "iter", "scenario": "baseline", "plasma.current": "15.0",
	})
	validator := refval.New(f.local, nil)
	_, err := validator.LoadReference(ctx, "iter", "baseline", []uuid.UUID{refID})
	require.NoError(t, err)

	id, _ := localSimWithFile(t, f.local, map[string]string{
		"device": "iter", "scenario": "baseline", "plasma.current": "99.0",
	})
	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, id))

	err = f.syncer.Publish(ctx, f.client, remoteName, id)
	assert.ErrorIs(t, err, core.ErrValidationFailed)

	// The verdict is reported to the remote even when it blocks the
	// publish.
	entries, err := f.remoteDB.GetProvenance(ctx, id)
	require.NoError(t, err)
	var verdicts []string
	for _, e := range entries {
		if e.Element == "validation" {
			verdicts = append(verdicts, e.Value)
		}
	}
	require.Len(t, verdicts, 1)
	assert.Contains(t, verdicts[0], "failed")

	// With error_on_fail off the same report only warns.
	relaxed := setupRelaxed(t, f)
	require.NoError(t, relaxed.Publish(ctx, f.client, remoteName, id))
}

func setupRelaxed(t *testing.T, f *fixture) *Syncer {
	t.Helper()
	return New(f.local, staticCreds{"alice", "hunter2"}, refval.New(f.local, nil),
		Options{AutoValidate: true, ErrorOnFail: false}, nil)
}

func TestSyncer_Pull(t *testing.T) {
	f := setup(t, Options{})
	ctx := context.Background()

	id, _ := localSimWithFile(t, f.local, map[string]string{"device": "iter"})
	require.NoError(t, f.local.AssignAlias(ctx, id, "pull-me"))
	require.NoError(t, f.syncer.Push(ctx, f.client, remoteName, id))

	// A second workstation with its own empty store pulls the record.
	other, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	puller := New(other, staticCreds{"alice", "hunter2"}, nil, Options{}, nil)

	destDir := t.TempDir()
	pulled, err := puller.Pull(ctx, f.client, remoteName, "pull-me", destDir)
	require.NoError(t, err)
	assert.Equal(t, id, pulled, "pull must preserve the UUID")

	sim, err := other.GetSimulation(ctx, pulled)
	require.NoError(t, err)
	assert.Equal(t, "pull-me", sim.Alias)
	require.Len(t, sim.Outputs, 1)

	// The payload landed under the destination directory and the URI
	// points at it.
	localPath := filepath.Join(destDir, id.String(), "output.dat")
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "field data", string(data))
	assert.Equal(t, "file://"+localPath, sim.Outputs[0].URI)

	state, err := puller.State(ctx, pulled, remoteName)
	require.NoError(t, err)
	assert.Equal(t, core.SyncRemoteStaged, state)

	// Pulling into a store that already holds the UUID is refused.
	_, err = puller.Pull(ctx, f.client, remoteName, "pull-me", destDir)
	assert.ErrorIs(t, err, core.ErrConflict)
}
