package core

import "errors"

// Error taxonomy. Data-integrity errors abort the enclosing transaction
// and are surfaced verbatim; network and authentication errors are left
// to the caller to retry.
var (
	// ErrNotFound is returned when an identity token resolves to nothing.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous is returned when a short UUID prefix matches more
	// than one simulation.
	ErrAmbiguous = errors.New("ambiguous reference")

	// ErrConflict covers alias collisions and illegal state changes.
	ErrConflict = errors.New("conflict")

	// ErrVocabularyViolation is returned when a value for a controlled
	// key is outside the registered vocabulary.
	ErrVocabularyViolation = errors.New("controlled vocabulary violation")

	// ErrChecksumMismatch is returned when a file reference is
	// re-ingested with a checksum differing from the recorded one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedManifestVersion is returned for manifests whose
	// version field names an unknown schema.
	ErrUnsupportedManifestVersion = errors.New("unsupported manifest version")

	// ErrUnsupportedURIScheme is returned for URIs that are neither
	// file nor imas.
	ErrUnsupportedURIScheme = errors.New("unsupported uri scheme")

	// ErrMalformedURI is returned when an imas URI is missing its
	// required query parameters.
	ErrMalformedURI = errors.New("malformed uri")

	// ErrAuthentication is returned when the remote rejects the
	// provided credentials or token.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNetwork is returned when a remote operation fails to connect
	// or exceeds its bounded timeout.
	ErrNetwork = errors.New("network error")

	// ErrValidationFailed is returned when a gated publish is blocked
	// by an out-of-range reference comparison.
	ErrValidationFailed = errors.New("reference validation failed")
)
