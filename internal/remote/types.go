// Package remote implements the SimDB HTTP API: the JSON wire types,
// the chi server and the client used by synchronization.
package remote

import (
	"time"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/pkg/core"
)

// APIVersion is reported at the API root.
const APIVersion = 1

// ChunkSize is the fixed payload size of one upload chunk.
const ChunkSize = 1 << 20

// VersionResponse is the API root payload.
type VersionResponse struct {
	Version int `json:"version"`
}

// TokenResponse carries an issued access token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MetaEntryDTO is one flattened metadata entry.
type MetaEntryDTO struct {
	Element string `json:"element"`
	Value   string `json:"value"`
}

// FileDTO describes one file reference on the wire.
type FileDTO struct {
	UUID        uuid.UUID `json:"file_uuid"`
	URI         string    `json:"uri"`
	Kind        string    `json:"kind"`
	Checksum    string    `json:"checksum"`
	Purpose     string    `json:"purpose,omitempty"`
	Sensitivity string    `json:"sensitivity,omitempty"`
	Access      string    `json:"access,omitempty"`
	Embargo     string    `json:"embargo,omitempty"`
}

// SimulationDTO describes a full simulation record on the wire.
type SimulationDTO struct {
	UUID      uuid.UUID      `json:"simulation_uuid"`
	Alias     string         `json:"alias,omitempty"`
	Status    string         `json:"status"`
	Replaces  string         `json:"replaces,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      []MetaEntryDTO `json:"meta"`
	Inputs    []FileDTO      `json:"inputs"`
	Outputs   []FileDTO      `json:"outputs"`
}

// QueryRequest carries query constraints.
type QueryRequest struct {
	Constraints []ConstraintDTO `json:"constraints"`
}

// ConstraintDTO is one metadata constraint.
type ConstraintDTO struct {
	Key   string `json:"key"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// StatusRequest asks for a lifecycle transition. Replaces, when set on
// a publish, deprecates the named simulation in the same transaction.
type StatusRequest struct {
	Status   string `json:"status"`
	Replaces string `json:"replaces,omitempty"`
}

// ValidationReportDTO carries a validation verdict to the remote,
// where it lands as provenance and notifies VALIDATION watchers.
type ValidationReportDTO struct {
	Device   string `json:"device"`
	Scenario string `json:"scenario"`
	Passed   bool   `json:"passed"`
	Failures int    `json:"failures,omitempty"`
}

// UploadStatus reports chunked transfer progress for one file.
type UploadStatus struct {
	FileUUID       uuid.UUID `json:"file_uuid"`
	Checksum       string    `json:"checksum"`
	ChunksReceived int       `json:"chunks_received"`
	Complete       bool      `json:"complete"`
}

// WatcherDTO is one watcher subscription.
type WatcherDTO struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Notification string `json:"notification"`
}

// ErrorResponse carries an API error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ToSimulationDTO converts a domain record to its wire form.
func ToSimulationDTO(sim *core.Simulation) SimulationDTO {
	dto := SimulationDTO{
		UUID:      sim.UUID,
		Alias:     sim.Alias,
		Status:    string(sim.Status),
		CreatedAt: sim.CreatedAt,
		Meta:      make([]MetaEntryDTO, 0, len(sim.Meta)),
		Inputs:    make([]FileDTO, 0, len(sim.Inputs)),
		Outputs:   make([]FileDTO, 0, len(sim.Outputs)),
	}
	if sim.Replaces != uuid.Nil {
		dto.Replaces = sim.Replaces.String()
	}
	for _, m := range sim.Meta {
		dto.Meta = append(dto.Meta, MetaEntryDTO{Element: m.Element, Value: m.Value})
	}
	for _, f := range sim.Inputs {
		dto.Inputs = append(dto.Inputs, toFileDTO(f))
	}
	for _, f := range sim.Outputs {
		dto.Outputs = append(dto.Outputs, toFileDTO(f))
	}
	return dto
}

func toFileDTO(f core.FileRef) FileDTO {
	return FileDTO{
		UUID:        f.UUID,
		URI:         f.URI,
		Kind:        f.Kind,
		Checksum:    f.Checksum,
		Purpose:     f.Purpose,
		Sensitivity: f.Sensitivity,
		Access:      f.Access,
		Embargo:     f.Embargo,
	}
}

// ToSimulation converts a wire record back to the domain form.
func (dto SimulationDTO) ToSimulation() (*core.Simulation, error) {
	sim := &core.Simulation{
		UUID:      dto.UUID,
		Alias:     dto.Alias,
		Status:    core.Status(dto.Status),
		CreatedAt: dto.CreatedAt,
	}
	if dto.Replaces != "" {
		replaces, err := uuid.Parse(dto.Replaces)
		if err != nil {
			return nil, err
		}
		sim.Replaces = replaces
	}
	for _, m := range dto.Meta {
		sim.Meta = append(sim.Meta, core.MetaEntry{Element: m.Element, Value: m.Value})
	}
	for _, f := range dto.Inputs {
		sim.Inputs = append(sim.Inputs, f.toFileRef())
	}
	for _, f := range dto.Outputs {
		sim.Outputs = append(sim.Outputs, f.toFileRef())
	}
	return sim, nil
}

func (dto FileDTO) toFileRef() core.FileRef {
	return core.FileRef{
		UUID:        dto.UUID,
		URI:         dto.URI,
		Kind:        dto.Kind,
		Checksum:    dto.Checksum,
		Purpose:     dto.Purpose,
		Sensitivity: dto.Sensitivity,
		Access:      dto.Access,
		Embargo:     dto.Embargo,
	}
}

// ToConstraints converts wire constraints to domain constraints.
func (q QueryRequest) ToConstraints() []core.Constraint {
	out := make([]core.Constraint, 0, len(q.Constraints))
	for _, c := range q.Constraints {
		op := core.OpEquals
		if c.Op == string(core.OpContains) {
			op = core.OpContains
		}
		out = append(out, core.Constraint{Key: c.Key, Op: op, Value: c.Value})
	}
	return out
}
