// Package models defines the domain types for Ansuz.
package models

import "time"

// Note statuses.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Statuses lists every valid note status.
var Statuses = []string{StatusDraft, StatusActive, StatusArchived}

// ValidStatus reports whether s is a known note status.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Note is one user-authored unit of content plus its derived metadata.
// ID is assigned at first ingestion and never reused; Source is the
// stable identity of the note's origin (e.g. a file path).
type Note struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body"`
	Tags      []string       `json:"tags,omitempty"`
	Status    string         `json:"status"`
	Links     []string       `json:"links,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	Checksum  string         `json:"checksum"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Summary is a lightweight representation returned by list and search
// operations. Score is only meaningful for ranked search results.
type Summary struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Title     string    `json:"title,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Score     int       `json:"score,omitempty"`
}

// Link is a directed edge in the link graph. TargetRef is the referenced
// source identity as written in the note body; it may be dangling until
// a note with that identity is ingested.
type Link struct {
	SourceID  string `json:"source_id"`
	TargetRef string `json:"target_ref"`
}
