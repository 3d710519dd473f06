package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/simdb-io/simdb/internal/checksum"
	"github.com/simdb-io/simdb/internal/notify"
	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// writeStoreError maps domain sentinels onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "%v", err)
	case errors.Is(err, core.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, "%v", err)
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrChecksumMismatch):
		writeError(w, http.StatusConflict, "%v", err)
	case errors.Is(err, core.ErrVocabularyViolation):
		writeError(w, http.StatusUnprocessableEntity, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}

func (s *Server) resolveSim(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := s.store.Resolve(r.Context(), chi.URLParam(r, "sim"))
	if err != nil {
		writeStoreError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: APIVersion})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok || !s.creds(username, password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, expires := s.tokens.Issue(username)
	s.logger.Info("issued token", "username", username)
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires})
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	sims, err := s.store.ListSimulations(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]SimulationDTO, 0, len(sims))
	for _, sim := range sims {
		full, err := s.store.GetSimulation(r.Context(), sim.UUID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		out = append(out, ToSimulationDTO(full))
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePushSimulation receives a pushed record and stages it.
// Pushing a UUID the remote already holds is a no-op, so interrupted
// pushes can restart safely.
func (s *Server) handlePushSimulation(w http.ResponseWriter, r *http.Request) {
	var dto SimulationDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "bad simulation payload: %v", err)
		return
	}
	sim, err := dto.ToSimulation()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad simulation payload: %v", err)
		return
	}
	if sim.UUID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "simulation uuid required")
		return
	}
	sim.Status = core.StatusStaged

	mu := s.simLock(sim.UUID.String())
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.GetSimulation(r.Context(), sim.UUID); err == nil {
		writeJSON(w, http.StatusOK, ToSimulationDTO(existing))
		return
	}

	if err := s.store.InsertSimulation(r.Context(), sim); err != nil {
		// A push that lost the race to another server instance still
		// gets the idempotent answer.
		if existing, getErr := s.store.GetSimulation(r.Context(), sim.UUID); getErr == nil {
			writeJSON(w, http.StatusOK, ToSimulationDTO(existing))
			return
		}
		writeStoreError(w, err)
		return
	}
	s.logger.Info("staged pushed simulation",
		"simulation", sim.UUID, "user", requestUser(r))
	writeJSON(w, http.StatusCreated, ToSimulationDTO(sim))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad query payload: %v", err)
		return
	}
	sims, err := s.store.QueryAll(r.Context(), req.ToConstraints())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]SimulationDTO, 0, len(sims))
	for _, sim := range sims {
		full, err := s.store.GetSimulation(r.Context(), sim.UUID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		out = append(out, ToSimulationDTO(full))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	sim, err := s.store.GetSimulation(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToSimulationDTO(sim))
}

func (s *Server) handleDeleteSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSimulation(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.logger.Info("deleted simulation", "simulation", id, "user", requestUser(r))
	writeJSON(w, http.StatusOK, struct{}{})
}

// handleStatus applies publish/deprecate transitions. Publishing with
// a replacement deprecates the old record atomically; concurrent
// publishes of the same simulation are serialized.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad status payload: %v", err)
		return
	}
	next := core.Status(req.Status)
	if !next.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status %q", req.Status)
		return
	}

	mu := s.simLock(id.String())
	mu.Lock()
	defer mu.Unlock()

	if next == core.StatusPublished {
		var replaces uuid.UUID
		if req.Replaces != "" {
			var err error
			if replaces, err = s.store.Resolve(r.Context(), req.Replaces); err != nil {
				writeStoreError(w, err)
				return
			}
		}
		if err := s.store.PublishWithReplace(r.Context(), id, replaces); err != nil {
			writeStoreError(w, err)
			return
		}
	} else {
		if err := s.store.SetStatus(r.Context(), id, next); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	s.logger.Info("applied status transition",
		"simulation", id, "status", next, "replaces", req.Replaces, "user", requestUser(r))

	switch next {
	case core.StatusPublished:
		s.notify.Dispatch(r.Context(), notify.Event{
			Simulation: id,
			Class:      core.NotifyRevision,
			Subject:    fmt.Sprintf("simulation %s published", id),
			Body:       "A watched simulation was published.",
		})
		if req.Replaces != "" {
			if old, err := s.store.Resolve(r.Context(), req.Replaces); err == nil {
				s.notify.Dispatch(r.Context(), notify.Event{
					Simulation: old,
					Class:      core.NotifyObsolescence,
					Subject:    fmt.Sprintf("simulation %s deprecated", old),
					Body:       fmt.Sprintf("A watched simulation was replaced by %s.", id),
				})
			}
		}
	case core.StatusDeprecated:
		s.notify.Dispatch(r.Context(), notify.Event{
			Simulation: id,
			Class:      core.NotifyObsolescence,
			Subject:    fmt.Sprintf("simulation %s deprecated", id),
			Body:       "A watched simulation was deprecated.",
		})
	}

	sim, err := s.store.GetSimulation(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToSimulationDTO(sim))
}

// handleValidation records a reported validation verdict as
// provenance and notifies VALIDATION watchers.
func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	var req ValidationReportDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad validation payload: %v", err)
		return
	}
	if req.Device == "" || req.Scenario == "" {
		writeError(w, http.StatusBadRequest, "device and scenario required")
		return
	}

	verdict := "passed"
	if !req.Passed {
		verdict = fmt.Sprintf("failed (%d paths out of range)", req.Failures)
	}
	detail := fmt.Sprintf("%s against %s/%s", verdict, req.Device, req.Scenario)
	if err := s.store.AddProvenance(r.Context(), id, "validation", detail); err != nil {
		writeStoreError(w, err)
		return
	}
	s.logger.Info("recorded validation verdict",
		"simulation", id, "verdict", verdict, "user", requestUser(r))

	s.notify.Dispatch(r.Context(), notify.Event{
		Simulation: id,
		Class:      core.NotifyValidation,
		Subject:    fmt.Sprintf("simulation %s validation %s", id, verdict),
		Body:       fmt.Sprintf("A watched simulation was validated: %s.", detail),
	})
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) resolveFile(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	fileUUID, err := uuid.Parse(chi.URLParam(r, "file"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad file uuid: %v", err)
		return uuid.Nil, false
	}
	return fileUUID, true
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	fileUUID, ok := s.resolveFile(w, r)
	if !ok {
		return
	}
	up, err := s.store.GetUpload(r.Context(), id, fileUUID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadStatus{
		FileUUID:       fileUUID,
		Checksum:       up.Checksum,
		ChunksReceived: up.ChunksReceived,
		Complete:       up.Complete,
	})
}

// handleUploadChunk receives one chunk of a file payload. Chunks
// arrive in order at fixed offsets; re-sending a chunk overwrites the
// same bytes. Re-uploading a completed file with an unchanged
// checksum is a no-op, a changed checksum restarts the transfer.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	fileUUID, ok := s.resolveFile(w, r)
	if !ok {
		return
	}
	chunk, err := strconv.Atoi(chi.URLParam(r, "chunk"))
	if err != nil || chunk < 0 {
		writeError(w, http.StatusBadRequest, "bad chunk index")
		return
	}
	totalChunks, err := strconv.Atoi(r.URL.Query().Get("chunks"))
	if err != nil || totalChunks < 1 {
		writeError(w, http.StatusBadRequest, "bad chunk count")
		return
	}
	sum := r.URL.Query().Get("checksum")
	if sum == "" {
		writeError(w, http.StatusBadRequest, "checksum required")
		return
	}

	file, err := s.store.GetFile(r.Context(), fileUUID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if file.Checksum != sum {
		writeError(w, http.StatusConflict, "checksum %s does not match recorded checksum for file %s", sum, fileUUID)
		return
	}

	up, err := s.store.GetUpload(r.Context(), id, fileUUID)
	switch {
	case err == nil && up.Complete && up.Checksum == sum:
		writeJSON(w, http.StatusOK, UploadStatus{
			FileUUID: fileUUID, Checksum: sum,
			ChunksReceived: up.ChunksReceived, Complete: true,
		})
		return
	case err == nil && up.Checksum != sum:
		up.Checksum = sum
		up.ChunksReceived = 0
		up.Complete = false
	case err != nil:
		if !errors.Is(err, core.ErrNotFound) {
			writeStoreError(w, err)
			return
		}
		up = &store.Upload{Simulation: id, File: fileUUID, Checksum: sum}
	}

	path := s.stagingPath(id, fileUUID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create staging dir: %v", err)
		return
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open staging file: %v", err)
		return
	}
	if _, err := out.Seek(int64(chunk)*ChunkSize, io.SeekStart); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, "failed to seek: %v", err)
		return
	}
	if _, err := io.Copy(out, r.Body); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, "failed to write chunk: %v", err)
		return
	}
	out.Close()

	if chunk+1 > up.ChunksReceived {
		up.ChunksReceived = chunk + 1
	}

	if up.ChunksReceived >= totalChunks {
		got, err := checksum.File(path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to checksum upload: %v", err)
			return
		}
		if got != sum {
			os.Remove(path)
			up.ChunksReceived = 0
			up.Complete = false
			if err := s.store.PutUpload(r.Context(), *up); err != nil {
				writeStoreError(w, err)
				return
			}
			writeError(w, http.StatusConflict,
				"%v: uploaded payload hashes to %s, expected %s", core.ErrChecksumMismatch, got, sum)
			return
		}
		up.Complete = true
	}

	if err := s.store.PutUpload(r.Context(), *up); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadStatus{
		FileUUID: fileUUID, Checksum: sum,
		ChunksReceived: up.ChunksReceived, Complete: up.Complete,
	})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	fileUUID, ok := s.resolveFile(w, r)
	if !ok {
		return
	}
	up, err := s.store.GetUpload(r.Context(), id, fileUUID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !up.Complete {
		writeError(w, http.StatusConflict, "file %s upload is incomplete", fileUUID)
		return
	}
	http.ServeFile(w, r, s.stagingPath(id, fileUUID))
}

func (s *Server) stagingPath(simUUID, fileUUID uuid.UUID) string {
	return filepath.Join(s.uploadDir, simUUID.String(), fileUUID.String())
}

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	watchers, err := s.store.ListWatchers(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]WatcherDTO, 0, len(watchers))
	for _, watcher := range watchers {
		out = append(out, WatcherDTO{
			Username:     watcher.Username,
			Email:        watcher.Email,
			Notification: watcher.Notification.Name(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddWatcher(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	var dto WatcherDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "bad watcher payload: %v", err)
		return
	}
	class, ok := core.ParseNotificationClass(dto.Notification)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown notification class %q", dto.Notification)
		return
	}
	watcher := core.Watcher{Username: dto.Username, Email: dto.Email, Notification: class}
	if err := s.store.AddWatcher(r.Context(), id, watcher); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (s *Server) handleRemoveWatcher(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveSim(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveWatcher(r.Context(), id, chi.URLParam(r, "username")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
