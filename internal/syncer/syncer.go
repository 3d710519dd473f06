// Package syncer moves simulations between the local store and a
// remote. Each simulation carries a per-remote synchronization state;
// push is resumable and publish can atomically replace an older
// version.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simdb-io/simdb/internal/refval"
	"github.com/simdb-io/simdb/internal/remote"
	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/internal/uri"
	"github.com/simdb-io/simdb/pkg/core"
)

// CredentialProvider supplies credentials for a named remote when the
// client's token is missing or expired. Implementations may prompt,
// read a keyring or fail outright; the syncer does not care.
type CredentialProvider interface {
	Credentials(remoteName string) (username, password string, err error)
}

// Options tunes synchronization behavior.
type Options struct {
	// ErrorOnFail makes a failed validation report block publish.
	ErrorOnFail bool
	// AutoValidate runs reference validation before publish when the
	// simulation carries device and scenario metadata.
	AutoValidate bool
	// PullWorkers bounds concurrent file downloads. Defaults to 4.
	PullWorkers int
}

// Syncer drives pushes, pulls and publishes against remotes.
type Syncer struct {
	store     *store.Store
	creds     CredentialProvider
	validator *refval.Validator
	opts      Options
	logger    *slog.Logger
}

// New builds a syncer. Validator and credential provider are both
// optional.
func New(st *store.Store, creds CredentialProvider, validator *refval.Validator, opts Options, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.PullWorkers <= 0 {
		opts.PullWorkers = 4
	}
	return &Syncer{store: st, creds: creds, validator: validator, opts: opts, logger: logger}
}

// withAuth runs fn, and on an authentication failure acquires fresh
// credentials for the remote and retries once.
func (s *Syncer) withAuth(ctx context.Context, client *remote.Client, remoteName string, fn func() error) error {
	err := fn()
	if !errors.Is(err, core.ErrAuthentication) || s.creds == nil {
		return err
	}

	username, password, credErr := s.creds.Credentials(remoteName)
	if credErr != nil {
		return fmt.Errorf("%w: %v", core.ErrAuthentication, credErr)
	}
	if _, tokenErr := client.Token(ctx, username, password); tokenErr != nil {
		return tokenErr
	}
	return fn()
}

// Push sends a simulation to the remote: the metadata record first,
// then every local file payload. A partial failure leaves the
// simulation push-pending; re-running the push skips payloads the
// remote already holds complete.
func (s *Syncer) Push(ctx context.Context, client *remote.Client, remoteName string, simUUID uuid.UUID) error {
	sim, err := s.store.GetSimulation(ctx, simUUID)
	if err != nil {
		return err
	}
	if sim.Status == core.StatusDeprecated {
		return fmt.Errorf("%w: simulation %s is deprecated", core.ErrConflict, simUUID)
	}

	if err := s.withAuth(ctx, client, remoteName, func() error {
		return client.PushSimulation(ctx, sim)
	}); err != nil {
		return fmt.Errorf("push metadata to %s: %w", remoteName, err)
	}

	// push-pending covers the file phase only. A failure before the
	// metadata lands must leave the simulation local-only.
	if err := s.store.SetSyncState(ctx, simUUID, remoteName, core.SyncPushPending); err != nil {
		return err
	}

	for _, file := range sim.Files() {
		if file.Kind != uri.KindFile {
			continue
		}
		parsed, err := uri.Parse(file.URI)
		if err != nil {
			return err
		}
		if err := s.withAuth(ctx, client, remoteName, func() error {
			return client.UploadFile(ctx, simUUID, file, parsed.Path)
		}); err != nil {
			return fmt.Errorf("push file %s to %s: %w", file.UUID, remoteName, err)
		}
	}

	if err := s.store.SetSyncState(ctx, simUUID, remoteName, core.SyncRemoteStaged); err != nil {
		return err
	}
	if sim.Status == core.StatusLocal {
		if err := s.store.SetStatus(ctx, simUUID, core.StatusStaged); err != nil {
			return err
		}
	}
	if err := s.store.AddProvenance(ctx, simUUID, "sync", "pushed to "+remoteName); err != nil {
		s.logger.Warn("failed to record push provenance", "simulation", simUUID, "error", err)
	}

	s.logger.Info("pushed simulation", "simulation", simUUID, "remote", remoteName)
	return nil
}

// PushReplaces pushes a simulation and records which published
// simulation it will deprecate. The replacement is applied atomically
// on the remote at publish time, not at push time.
func (s *Syncer) PushReplaces(ctx context.Context, client *remote.Client, remoteName string, simUUID, oldUUID uuid.UUID) error {
	if _, err := s.store.GetSimulation(ctx, oldUUID); err != nil {
		return err
	}
	if err := s.store.SetReplaces(ctx, simUUID, oldUUID); err != nil {
		return err
	}
	return s.Push(ctx, client, remoteName, simUUID)
}

// Publish moves a pushed simulation to published on the remote. When
// the simulation records a replacement target, the old version is
// deprecated in the same remote transaction. Validation gating runs
// first when configured.
func (s *Syncer) Publish(ctx context.Context, client *remote.Client, remoteName string, simUUID uuid.UUID) error {
	sim, err := s.store.GetSimulation(ctx, simUUID)
	if err != nil {
		return err
	}

	state, err := s.store.GetSyncState(ctx, simUUID, remoteName)
	if err != nil {
		return err
	}
	switch state {
	case core.SyncRemoteStaged, core.SyncRemotePublished:
	default:
		return fmt.Errorf("%w: simulation %s is not staged on %s (state %s)",
			core.ErrConflict, simUUID, remoteName, state)
	}

	if err := s.gateOnValidation(ctx, client, remoteName, sim); err != nil {
		return err
	}

	replaces := ""
	if sim.Replaces != uuid.Nil {
		replaces = sim.Replaces.String()
	}
	if err := s.withAuth(ctx, client, remoteName, func() error {
		return client.SetStatus(ctx, simUUID.String(), core.StatusPublished, replaces)
	}); err != nil {
		return fmt.Errorf("publish on %s: %w", remoteName, err)
	}

	if err := s.store.SetSyncState(ctx, simUUID, remoteName, core.SyncRemotePublished); err != nil {
		return err
	}
	if sim.Status != core.StatusPublished {
		if err := s.store.SetStatus(ctx, simUUID, core.StatusPublished); err != nil {
			return err
		}
	}
	if sim.Replaces != uuid.Nil {
		if err := s.store.SetStatus(ctx, sim.Replaces, core.StatusDeprecated); err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := s.store.SetSyncState(ctx, sim.Replaces, remoteName, core.SyncRemoteDeprecated); err != nil {
			return err
		}
	}
	if err := s.store.AddProvenance(ctx, simUUID, "sync", "published on "+remoteName); err != nil {
		s.logger.Warn("failed to record publish provenance", "simulation", simUUID, "error", err)
	}

	s.logger.Info("published simulation",
		"simulation", simUUID, "remote", remoteName, "replaces", replaces)
	return nil
}

// Deprecate marks a published simulation deprecated on the remote and
// mirrors the transition locally.
func (s *Syncer) Deprecate(ctx context.Context, client *remote.Client, remoteName string, simUUID uuid.UUID) error {
	if err := s.withAuth(ctx, client, remoteName, func() error {
		return client.SetStatus(ctx, simUUID.String(), core.StatusDeprecated, "")
	}); err != nil {
		return fmt.Errorf("deprecate on %s: %w", remoteName, err)
	}
	if err := s.store.SetSyncState(ctx, simUUID, remoteName, core.SyncRemoteDeprecated); err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, simUUID, core.StatusDeprecated); err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return nil
}

// gateOnValidation scores the simulation against its device/scenario
// baseline and reports the verdict to the remote, where it notifies
// VALIDATION watchers. An out-of-range report blocks publish only
// under the error_on_fail policy.
func (s *Syncer) gateOnValidation(ctx context.Context, client *remote.Client, remoteName string, sim *core.Simulation) error {
	if s.validator == nil || !s.opts.AutoValidate {
		return nil
	}
	meta := sim.MetaMap()
	device, scenario := meta["device"], meta["scenario"]
	if device == "" || scenario == "" {
		return nil
	}

	report, err := s.validator.Validate(ctx, sim.UUID, device, scenario)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return err
	}
	failures := report.Failures()

	if err := s.withAuth(ctx, client, remoteName, func() error {
		return client.ReportValidation(ctx, sim.UUID.String(), remote.ValidationReportDTO{
			Device:   device,
			Scenario: scenario,
			Passed:   report.Passed(),
			Failures: len(failures),
		})
	}); err != nil {
		s.logger.Warn("failed to report validation verdict",
			"simulation", sim.UUID, "remote", remoteName, "error", err)
	}

	if report.Passed() {
		return nil
	}
	s.logger.Warn("validation failed before publish",
		"simulation", sim.UUID, "failures", len(failures))
	if s.opts.ErrorOnFail {
		return fmt.Errorf("%w: %d metadata paths out of range for %s/%s",
			core.ErrValidationFailed, len(failures), device, scenario)
	}
	return nil
}

// Pull copies a remote simulation into the local store, preserving
// its UUID, and downloads its file payloads into destDir. File URIs
// are rewritten to the downloaded locations.
func (s *Syncer) Pull(ctx context.Context, client *remote.Client, remoteName, token, destDir string) (uuid.UUID, error) {
	var sim *core.Simulation
	if err := s.withAuth(ctx, client, remoteName, func() error {
		var err error
		sim, err = client.GetSimulation(ctx, token)
		return err
	}); err != nil {
		return uuid.Nil, fmt.Errorf("pull %s from %s: %w", token, remoteName, err)
	}

	if _, err := s.store.GetSimulation(ctx, sim.UUID); err == nil {
		return uuid.Nil, fmt.Errorf("%w: simulation %s already exists locally", core.ErrConflict, sim.UUID)
	}

	rewrite := func(files []core.FileRef) error {
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(s.opts.PullWorkers)
		for i := range files {
			if files[i].Kind != uri.KindFile {
				continue
			}
			file := &files[i]
			eg.Go(func() error {
				parsed, err := uri.Parse(file.URI)
				if err != nil {
					return err
				}
				dest := filepath.Join(destDir, sim.UUID.String(), filepath.Base(parsed.Path))
				if err := ensureDir(filepath.Dir(dest)); err != nil {
					return err
				}
				if err := client.DownloadFile(egctx, sim.UUID, file.UUID, dest, file.Checksum); err != nil {
					return err
				}
				file.URI = "file://" + dest
				return nil
			})
		}
		return eg.Wait()
	}
	if err := rewrite(sim.Inputs); err != nil {
		return uuid.Nil, err
	}
	if err := rewrite(sim.Outputs); err != nil {
		return uuid.Nil, err
	}

	if err := s.store.InsertSimulation(ctx, sim); err != nil {
		return uuid.Nil, err
	}
	if err := s.store.SetSyncState(ctx, sim.UUID, remoteName, syncStateFor(sim.Status)); err != nil {
		return uuid.Nil, err
	}
	if err := s.store.AddProvenance(ctx, sim.UUID, "sync", "pulled from "+remoteName); err != nil {
		s.logger.Warn("failed to record pull provenance", "simulation", sim.UUID, "error", err)
	}

	s.logger.Info("pulled simulation",
		"simulation", sim.UUID, "remote", remoteName, "dest", destDir)
	return sim.UUID, nil
}

// State reports where a simulation stands against one remote.
func (s *Syncer) State(ctx context.Context, simUUID uuid.UUID, remoteName string) (core.SyncState, error) {
	return s.store.GetSyncState(ctx, simUUID, remoteName)
}

func syncStateFor(status core.Status) core.SyncState {
	switch status {
	case core.StatusPublished:
		return core.SyncRemotePublished
	case core.StatusDeprecated:
		return core.SyncRemoteDeprecated
	default:
		return core.SyncRemoteStaged
	}
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
