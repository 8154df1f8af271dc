package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

// Upsert incorporates one note's postings, retracting any previous
// postings for the same id first so that shrinking tag or token sets do
// not leak stale entries. The retraction and insertion share one
// transaction.
func (db *DB) Upsert(e Entry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := retract(tx, e.ID); err != nil {
		return err
	}
	if err := insert(tx, db.tokenCounts(e), e); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove retracts all postings for the given note id.
func (db *DB) Remove(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := retract(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebuild replaces the entire index content from scratch in a single
// transaction. Two consecutive rebuilds from the same entries produce
// identical index content.
func (db *DB) Rebuild(entries []Entry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"tag_postings", "token_postings", "links"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("index: clear %s: %w", table, err)
		}
	}
	for _, e := range entries {
		if err := insert(tx, db.tokenCounts(e), e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func retract(tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM tag_postings WHERE note_id = ?`,
		`DELETE FROM token_postings WHERE note_id = ?`,
		`DELETE FROM links WHERE source_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("index: retract: %w", err)
		}
	}
	return nil
}

func insert(tx *sql.Tx, tokens map[string]int, e Entry) error {
	for _, tag := range e.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tag_postings (tag, note_id) VALUES (?, ?)`, tag, e.ID); err != nil {
			return fmt.Errorf("index: insert tag posting: %w", err)
		}
	}
	for tok, count := range tokens {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO token_postings (token, note_id, occurrences) VALUES (?, ?, ?)`, tok, e.ID, count); err != nil {
			return fmt.Errorf("index: insert token posting: %w", err)
		}
	}
	for _, target := range e.Links {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO links (source_id, target_ref) VALUES (?, ?)`, e.ID, target); err != nil {
			return fmt.Errorf("index: insert link: %w", err)
		}
	}
	return nil
}

// FindByTag returns the ids of all notes carrying the exact tag.
func (db *DB) FindByTag(ctx context.Context, tag string) ([]string, error) {
	return db.column(ctx, `SELECT note_id FROM tag_postings WHERE tag = ? ORDER BY note_id`, tag)
}

// Scores returns, per note id, the summed occurrence count of the given
// tokens (the free-text relevance score).
func (db *DB) Scores(ctx context.Context, tokens []string) (map[string]int, error) {
	scores := make(map[string]int)
	for _, tok := range tokens {
		rows, err := db.conn.QueryContext(ctx,
			`SELECT note_id, occurrences FROM token_postings WHERE token = ?`, tok)
		if err != nil {
			return nil, fmt.Errorf("index: scores: %w", err)
		}
		for rows.Next() {
			var id string
			var occ int
			if err := rows.Scan(&id, &occ); err != nil {
				rows.Close()
				return nil, err
			}
			scores[id] += occ
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return scores, nil
}

// Outlinks returns the target refs linked from the given note id.
// Refs may be dangling; resolution is the caller's concern.
func (db *DB) Outlinks(ctx context.Context, id string) ([]string, error) {
	return db.column(ctx, `SELECT target_ref FROM links WHERE source_id = ? ORDER BY target_ref`, id)
}

// Backrefs returns the ids of notes whose body links to the given
// source identity.
func (db *DB) Backrefs(ctx context.Context, targetRef string) ([]string, error) {
	return db.column(ctx, `SELECT source_id FROM links WHERE target_ref = ? ORDER BY source_id`, targetRef)
}

// Graph returns every edge in the link graph.
func (db *DB) Graph(ctx context.Context) ([]models.Link, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT source_id, target_ref FROM links ORDER BY source_id, target_ref`)
	if err != nil {
		return nil, fmt.Errorf("index: graph: %w", err)
	}
	defer rows.Close()

	var out []models.Link
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.SourceID, &l.TargetRef); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (db *DB) column(ctx context.Context, q string, arg any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
