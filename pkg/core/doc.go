// Package core defines the shared language of the SimDB system.
//
// This package contains:
//   - Domain entities (Simulation, FileRef, Watcher, Vocabulary, Baseline)
//   - The error taxonomy shared by the store, ingestion and sync layers
//   - Metadata tree flattening used for storage and query matching
//
// The Golden Rule: pkg/core imports only the uuid library and stdlib.
// All other packages depend on core, not the reverse.
package core
