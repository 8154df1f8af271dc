package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Status string
	Tag    string
	Limit  int
	Offset int
}

// DefaultListLimit bounds List results when no limit is given.
const DefaultListLimit = 50

// validate checks that a normalized record carries the required fields.
func validate(n *models.Note) error {
	err := validation.ValidateStruct(n,
		validation.Field(&n.Source, validation.Required),
		validation.Field(&n.Status, validation.Required,
			validation.In(models.StatusDraft, models.StatusActive, models.StatusArchived)),
	)
	if err != nil {
		return fmt.Errorf("store: %w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// Put creates or updates a note. A missing id is assigned on first write;
// created_at is immutable and updated_at is set on every mutation. The
// write is a single transaction, so a concurrent reader never observes a
// partially written row.
func (db *DB) Put(ctx context.Context, n *models.Note) (string, error) {
	if err := validate(n); err != nil {
		return "", err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	n.UpdatedAt = now
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	tagsJSON, _ := json.Marshal(nonNil(n.Tags))
	linksJSON, _ := json.Marshal(nonNil(n.Links))
	extraJSON, _ := json.Marshal(n.Extra)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin tx: %w", ctxErr(ctx, err))
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, source, title, body, tags, status, links, extra, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source     = excluded.source,
			title      = excluded.title,
			body       = excluded.body,
			tags       = excluded.tags,
			status     = excluded.status,
			links      = excluded.links,
			extra      = excluded.extra,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, n.ID, n.Source, n.Title, n.Body, string(tagsJSON), n.Status,
		string(linksJSON), string(extraJSON), n.Checksum, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("store: upsert note: %w", ctxErr(ctx, err))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", ctxErr(ctx, err))
	}
	return n.ID, nil
}

// Get returns the note with the given id, or apperr.ErrNotFound.
func (db *DB) Get(ctx context.Context, id string) (*models.Note, error) {
	return db.getWhere(ctx, `id = ?`, id)
}

// GetBySource returns the note with the given source identity, or
// apperr.ErrNotFound. It is how re-ingestion finds the stable id.
func (db *DB) GetBySource(ctx context.Context, source string) (*models.Note, error) {
	return db.getWhere(ctx, `source = ?`, source)
}

func (db *DB) getWhere(ctx context.Context, where string, arg any) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, source, title, body, tags, status, links, extra, checksum, created_at, updated_at
		FROM notes WHERE `+where, arg)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("store: get note: %w", ctxErr(ctx, err))
	}
	return n, nil
}

// List returns notes matching the filter, most-recently-touched first
// with a deterministic id tie-break.
func (db *DB) List(ctx context.Context, f Filter) ([]models.Note, error) {
	q := `
		SELECT id, source, title, body, tags, status, links, extra, checksum, created_at, updated_at
		FROM notes WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Tag != "" {
		// Tags are stored as a JSON array of strings; LIKE wildcards in
		// the tag itself must match literally.
		q += ` AND tags LIKE ? ESCAPE '\'`
		args = append(args, `%"`+likeEscape(f.Tag)+`"%`)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q += ` ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", ctxErr(ctx, err))
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// All returns every note, used for full index rebuilds.
func (db *DB) All(ctx context.Context) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, title, body, tags, status, links, extra, checksum, created_at, updated_at
		FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: all: %w", ctxErr(ctx, err))
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// SetStatus changes a note's status; archival is a status change, never
// a removal, so backlinks stay intact.
func (db *DB) SetStatus(ctx context.Context, id, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("store: %w: unknown status %q", apperr.ErrValidation, status)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE notes SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: set status: %w", ctxErr(ctx, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// SetChecksum updates the stored content checksum without touching the
// content timestamps. The ingestion coordinator clears it when indexing
// fails, so the unchanged-content short-circuit cannot hide a note that
// is missing from the index.
func (db *DB) SetChecksum(ctx context.Context, id, checksum string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE notes SET checksum = ? WHERE id = ?`, checksum, id)
	if err != nil {
		return fmt.Errorf("store: set checksum: %w", ctxErr(ctx, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Delete physically removes a note. The normal lifecycle archives
// instead; this exists for administrative cleanup.
func (db *DB) Delete(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete: %w", ctxErr(ctx, err))
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*models.Note, error) {
	var n models.Note
	var tagsJSON, linksJSON, extraJSON string
	err := s.Scan(&n.ID, &n.Source, &n.Title, &n.Body, &tagsJSON, &n.Status,
		&linksJSON, &extraJSON, &n.Checksum, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
	_ = json.Unmarshal([]byte(linksJSON), &n.Links)
	if extraJSON != "" && extraJSON != "null" && extraJSON != "{}" {
		_ = json.Unmarshal([]byte(extraJSON), &n.Extra)
	}
	return &n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// likeEscape escapes LIKE metacharacters so a tag value matches itself
// and nothing else.
func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
