package storage

import "errors"

// Errors shared by every backend. The archive and the run tables are
// append-only: records are inserted once and never updated in place.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned on an insert whose key already exists.
	// Re-ingesting a candle or re-recording a run must fail loudly rather
	// than overwrite history.
	ErrDuplicateKey = errors.New("duplicate key: records are immutable")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
