// Package apperr defines the error taxonomy shared across Ansuz.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested note id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a normalized record is missing required fields.
	ErrValidation = errors.New("validation failed")
	// ErrConflictInFlight indicates a queued ingestion for the same source
	// was abandoned while waiting for the in-flight one to finish.
	ErrConflictInFlight = errors.New("ingestion in flight for source")
	// ErrIndexing indicates indexing failed after bounded retries; the note
	// is persisted but degraded (not searchable).
	ErrIndexing = errors.New("indexing failed")
	// ErrTimeout indicates a read operation exceeded its time bound.
	ErrTimeout = errors.New("timeout")
	// ErrConflict indicates an optimistic-concurrency mismatch.
	ErrConflict = errors.New("conflict")
)

// IngestError reports an ingestion failure with the source identity and
// the stage at which it failed.
type IngestError struct {
	Source string
	Stage  string
	Err    error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: stage %s: %v", e.Source, e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }
