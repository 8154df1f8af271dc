// Package storage abstracts the drop directory that feeds file-based
// ingestion. Files are read-only inputs here; the authoritative note
// record lives in the store database.
package storage

import "time"

// FileInfo is lightweight metadata for one drop-directory file.
type FileInfo struct {
	Path     string
	Checksum string
	ModTime  time.Time
}

// Provider is the interface for drop-directory reads.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to the root).
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
}
