package remote

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdb-io/simdb/internal/checksum"
	"github.com/simdb-io/simdb/internal/notify"
	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

func setupRemote(t *testing.T) (*Client, *store.Store, string) {
	t.Helper()

	st, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	uploadDir := t.TempDir()
	srv := NewServer(ServerConfig{
		Store:       st,
		UploadDir:   uploadDir,
		Credentials: StaticPasswordValidator("hunter2"),
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	client, err := NewClient(ClientOptions{BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = client.Token(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	return client, st, uploadDir
}

func stagedSim(alias string) *core.Simulation {
	return &core.Simulation{
		UUID:  uuid.New(),
		Alias: alias,
		Meta: []core.MetaEntry{
			{Element: "device", Value: "iter"},
		},
	}
}

func TestClient_Version(t *testing.T) {
	client, _, _ := setupRemote(t)

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, APIVersion, v)
}

func TestClient_TokenRejectsBadCredentials(t *testing.T) {
	st, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := NewServer(ServerConfig{Store: st, Credentials: StaticPasswordValidator("hunter2")})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	client, err := NewClient(ClientOptions{BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = client.Token(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, core.ErrAuthentication)

	// No token at all gets the same answer on protected routes.
	_, err = client.ListSimulations(context.Background())
	assert.ErrorIs(t, err, core.ErrAuthentication)
}

func TestClient_PushIsIdempotent(t *testing.T) {
	client, st, _ := setupRemote(t)
	ctx := context.Background()

	sim := stagedSim("pushed-run")
	require.NoError(t, client.PushSimulation(ctx, sim))
	require.NoError(t, client.PushSimulation(ctx, sim))

	got, err := st.GetSimulation(ctx, sim.UUID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStaged, got.Status)
	assert.Equal(t, "pushed-run", got.Alias)
}

func TestClient_QueryAndGet(t *testing.T) {
	client, _, _ := setupRemote(t)
	ctx := context.Background()

	sim := stagedSim("query-me")
	require.NoError(t, client.PushSimulation(ctx, sim))

	sims, err := client.QuerySimulations(ctx, []core.Constraint{
		{Key: "device", Op: core.OpEquals, Value: "ITER"},
	})
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.Equal(t, sim.UUID, sims[0].UUID)

	// Resolution by alias works through the API.
	got, err := client.GetSimulation(ctx, "query-me")
	require.NoError(t, err)
	assert.Equal(t, sim.UUID, got.UUID)

	_, err = client.GetSimulation(ctx, "no-such-simulation")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClient_PublishWithReplace(t *testing.T) {
	client, st, _ := setupRemote(t)
	ctx := context.Background()

	old := stagedSim("v1")
	next := stagedSim("v2")
	require.NoError(t, client.PushSimulation(ctx, old))
	require.NoError(t, client.PushSimulation(ctx, next))
	require.NoError(t, client.SetStatus(ctx, old.UUID.String(), core.StatusPublished, ""))

	require.NoError(t, client.SetStatus(ctx, next.UUID.String(), core.StatusPublished, old.UUID.String()))

	published, err := st.GetSimulation(ctx, next.UUID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPublished, published.Status)
	assert.Equal(t, old.UUID, published.Replaces)

	deprecated, err := st.GetSimulation(ctx, old.UUID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeprecated, deprecated.Status)
}

func TestClient_PublishReplaceIsAtomic(t *testing.T) {
	client, st, _ := setupRemote(t)
	ctx := context.Background()

	old := stagedSim("old")
	next := stagedSim("new")
	require.NoError(t, client.PushSimulation(ctx, old))
	require.NoError(t, client.PushSimulation(ctx, next))

	// staged -> deprecated is not a legal transition, so the publish
	// must roll back entirely.
	err := client.SetStatus(ctx, next.UUID.String(), core.StatusPublished, old.UUID.String())
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := st.GetSimulation(ctx, next.UUID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStaged, got.Status, "failed replace left the publish half-applied")
}

func TestClient_UploadFile(t *testing.T) {
	client, st, uploadDir := setupRemote(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("plasma"), 500000) // ~3 MB, multiple chunks
	dir := t.TempDir()
	local := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(local, payload, 0o644))

	sum, err := checksum.File(local)
	require.NoError(t, err)

	sim := stagedSim("with-files")
	file := core.FileRef{UUID: uuid.New(), URI: "file://" + local, Kind: "file", Checksum: sum}
	sim.Outputs = []core.FileRef{file}
	require.NoError(t, client.PushSimulation(ctx, sim))

	require.NoError(t, client.UploadFile(ctx, sim.UUID, file, local))

	staged, err := os.ReadFile(filepath.Join(uploadDir, sim.UUID.String(), file.UUID.String()))
	require.NoError(t, err)
	assert.Equal(t, payload, staged)

	up, err := st.GetUpload(ctx, sim.UUID, file.UUID)
	require.NoError(t, err)
	assert.True(t, up.Complete)

	// Re-upload with an unchanged checksum is a pure no-op.
	require.NoError(t, client.UploadFile(ctx, sim.UUID, file, local))

	t.Run("download round trip", func(t *testing.T) {
		dest := filepath.Join(dir, "back.bin")
		require.NoError(t, client.DownloadFile(ctx, sim.UUID, file.UUID, dest, sum))
		back, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, payload, back)
	})
}

func TestClient_UploadRejectsForeignChecksum(t *testing.T) {
	client, _, _ := setupRemote(t)
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))
	sum, err := checksum.File(local)
	require.NoError(t, err)

	sim := stagedSim("strict")
	file := core.FileRef{UUID: uuid.New(), URI: "file://" + local, Kind: "file", Checksum: sum}
	sim.Outputs = []core.FileRef{file}
	require.NoError(t, client.PushSimulation(ctx, sim))

	// Local file changed after the manifest was ingested: the server
	// refuses the upload when the payload hash disagrees.
	require.NoError(t, os.WriteFile(local, []byte("tampered"), 0o644))
	err = client.UploadFile(ctx, sim.UUID, file, local)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestClient_ConcurrentPushesSameUUID(t *testing.T) {
	client, st, _ := setupRemote(t)
	ctx := context.Background()

	sim := stagedSim("raced")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.PushSimulation(ctx, sim)
		}(i)
	}
	wg.Wait()

	// First-time pushes racing on one UUID all get the idempotent
	// answer, never a constraint violation.
	for i, err := range errs {
		assert.NoError(t, err, "push %d", i)
	}
	got, err := st.GetSimulation(ctx, sim.UUID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStaged, got.Status)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, _ core.Watcher, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func TestClient_ValidationReportNotifiesWatchers(t *testing.T) {
	st, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifier := &recordingNotifier{}
	srv := NewServer(ServerConfig{
		Store:       st,
		UploadDir:   t.TempDir(),
		Credentials: StaticPasswordValidator("hunter2"),
		Notifier:    notifier,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	client, err := NewClient(ClientOptions{BaseURL: ts.URL})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = client.Token(ctx, "alice", "hunter2")
	require.NoError(t, err)

	sim := stagedSim("scored")
	require.NoError(t, client.PushSimulation(ctx, sim))
	require.NoError(t, client.AddWatcher(ctx, "scored", core.Watcher{
		Username: "carol", Email: "carol@example.org", Notification: core.NotifyValidation,
	}))

	require.NoError(t, client.ReportValidation(ctx, sim.UUID.String(), ValidationReportDTO{
		Device: "iter", Scenario: "baseline", Passed: false, Failures: 2,
	}))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.events, 1)
	assert.Equal(t, core.NotifyValidation, notifier.events[0].Class)
	assert.Equal(t, sim.UUID, notifier.events[0].Simulation)

	// The verdict also lands in the simulation's provenance.
	entries, err := st.GetProvenance(ctx, sim.UUID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "validation", last.Element)
	assert.Contains(t, last.Value, "iter/baseline")
}

func TestClient_Watchers(t *testing.T) {
	client, _, _ := setupRemote(t)
	ctx := context.Background()

	sim := stagedSim("watched")
	require.NoError(t, client.PushSimulation(ctx, sim))

	watcher := core.Watcher{Username: "carol", Email: "carol@example.org", Notification: core.NotifyAll}
	require.NoError(t, client.AddWatcher(ctx, "watched", watcher))

	watchers, err := client.ListWatchers(ctx, "watched")
	require.NoError(t, err)
	require.Len(t, watchers, 1)
	assert.Equal(t, core.NotifyAll, watchers[0].Notification)

	require.NoError(t, client.RemoveWatcher(ctx, "watched", "carol"))
	err = client.RemoveWatcher(ctx, "watched", "carol")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTokenStore_Expiry(t *testing.T) {
	ts := NewTokenStore(time.Hour)
	now := time.Now()
	ts.now = func() time.Time { return now }

	token, _ := ts.Issue("alice")
	user, ok := ts.Check(token)
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	now = now.Add(2 * time.Hour)
	_, ok = ts.Check(token)
	assert.False(t, ok)
}

func TestClient_NetworkErrors(t *testing.T) {
	client, err := NewClient(ClientOptions{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	})
	require.NoError(t, err)

	_, err = client.Version(context.Background())
	assert.ErrorIs(t, err, core.ErrNetwork)
	assert.False(t, errors.Is(err, core.ErrAuthentication))
}
