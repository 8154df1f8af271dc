// Package index maintains the derived search structures: tag postings,
// token postings, and the link graph. Everything here is a projection of
// the note store and can be rebuilt from it at any time; the index is
// never the source of truth.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tag_postings (
	tag     TEXT NOT NULL,
	note_id TEXT NOT NULL,
	UNIQUE(tag, note_id)
);

CREATE TABLE IF NOT EXISTS token_postings (
	token       TEXT NOT NULL,
	note_id     TEXT NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 1,
	UNIQUE(token, note_id)
);

CREATE TABLE IF NOT EXISTS links (
	source_id  TEXT NOT NULL,
	target_ref TEXT NOT NULL,
	UNIQUE(source_id, target_ref)
);

CREATE INDEX IF NOT EXISTS idx_tag_postings_tag ON tag_postings(tag);
CREATE INDEX IF NOT EXISTS idx_token_postings_token ON token_postings(token);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_ref);
`

// DefaultMinTokenLen is the token-length floor applied when none is configured.
const DefaultMinTokenLen = 2

// Entry is the indexable projection of one note.
type Entry struct {
	ID     string
	Source string
	Title  string
	Body   string
	Tags   []string
	Links  []string
}

// FromNote projects a note onto its indexable entry.
func FromNote(n models.Note) Entry {
	return Entry{
		ID:     n.ID,
		Source: n.Source,
		Title:  n.Title,
		Body:   n.Body,
		Tags:   n.Tags,
		Links:  n.Links,
	}
}

// DB wraps a sql.DB with index operations.
type DB struct {
	conn        *sql.DB
	minTokenLen int
}

// Open opens (or creates) the index database and applies the schema.
// minTokenLen is the token-length floor; values below 1 fall back to the
// default.
func Open(dsn string, minTokenLen int) (*DB, error) {
	if minTokenLen < 1 {
		minTokenLen = DefaultMinTokenLen
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn, minTokenLen: minTokenLen}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
