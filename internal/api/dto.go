package api

import "github.com/starford/ansuz/internal/models"

// IngestRequest is the request body for ingesting raw note text.
type IngestRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// IngestResponse is returned after an ingestion attempt. Warning is set
// when the note was stored but indexing failed (degraded, not lost).
type IngestResponse struct {
	ID      string `json:"id"`
	Warning string `json:"warning,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// StatusRequest is the request body for a status change.
type StatusRequest struct {
	Status string `json:"status"`
}

// NoteDetail is the full note response, enriched with backlinks.
type NoteDetail struct {
	models.Note
	Backlinks []string `json:"backlinks"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Summary `json:"notes"`
}

// SearchResponse wraps ranked search results.
type SearchResponse struct {
	Results []models.Summary `json:"results"`
}

// GraphResponse wraps the link graph.
type GraphResponse struct {
	Nodes []models.Summary `json:"nodes"`
	Edges []models.Link    `json:"edges"`
}
