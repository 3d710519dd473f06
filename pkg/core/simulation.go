package core

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a simulation within a store.
//
// Transitions are monotonic: local -> staged -> published, with
// deprecated reachable only from published and terminal.
type Status string

const (
	StatusLocal      Status = "local"
	StatusStaged     Status = "staged"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusLocal, StatusStaged, StatusPublished, StatusDeprecated:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// Re-asserting the current status is permitted so retried pushes and
// publishes stay idempotent.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusLocal:
		return next == StatusStaged
	case StatusStaged:
		return next == StatusPublished
	case StatusPublished:
		return next == StatusDeprecated
	}
	return false
}

// MetaEntry is a single flattened metadata element of a simulation's
// metadata set. Element is a dotted key path.
type MetaEntry struct {
	Element string
	Value   string
}

// Simulation is a tracked simulation record.
//
// The UUID is immutable once assigned. The alias is mutable but unique
// across all live simulations in the same store.
type Simulation struct {
	UUID        uuid.UUID
	Alias       string
	Status      Status
	MetadataSet uuid.UUID
	// Replaces names a previously published simulation that this one
	// deprecates on publish, or uuid.Nil.
	Replaces  uuid.UUID
	CreatedAt time.Time

	Meta    []MetaEntry
	Inputs  []FileRef
	Outputs []FileRef
}

// FindMeta returns all values stored under the given element key.
func (s *Simulation) FindMeta(element string) []string {
	var values []string
	for _, m := range s.Meta {
		if m.Element == element {
			values = append(values, m.Value)
		}
	}
	return values
}

// MetaMap returns the metadata set as a flat element -> value map.
func (s *Simulation) MetaMap() map[string]string {
	out := make(map[string]string, len(s.Meta))
	for _, m := range s.Meta {
		out[m.Element] = m.Value
	}
	return out
}

// Files returns inputs and outputs as a single slice.
func (s *Simulation) Files() []FileRef {
	files := make([]FileRef, 0, len(s.Inputs)+len(s.Outputs))
	files = append(files, s.Inputs...)
	files = append(files, s.Outputs...)
	return files
}

// Operator is a query constraint operator.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
)

// Constraint is one (key, operator, value) triple of a metadata query.
// A query is the conjunction of its constraints.
type Constraint struct {
	Key   string
	Op    Operator
	Value string
}
