// Package ingest drives the write path: raw text is parsed, persisted to
// the note store, and projected into the index, in that order. The
// coordinator is the only writer; queries read concurrently and tolerate
// eventual consistency.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/store"
)

// Ingestion stages.
const (
	StageReceived = "received"
	StageParsed   = "parsed"
	StageStored   = "stored"
	StageIndexed  = "indexed"
	StageDone     = "done"
)

// Notifier is called after a successful state change so other surfaces
// (SSE, metrics) can react. kind is one of "ingested", "archived",
// "failed", "rebuilt".
type Notifier func(kind, id, source string)

// Options tune coordinator behavior.
type Options struct {
	// Retries bounds how often a failed index write is retried before the
	// failure is surfaced.
	Retries int
	// RetryBackoff is the fixed pause between index retries.
	RetryBackoff time.Duration
}

// Coordinator serializes ingestion per source identity and enforces the
// Received → Parsed → Stored → Indexed → Done progression.
type Coordinator struct {
	store  *store.DB
	idx    *index.DB
	logger *slog.Logger
	notify Notifier
	opts   Options

	locks *keyedLocks
}

// New creates a coordinator. notify may be nil.
func New(st *store.DB, idx *index.DB, logger *slog.Logger, notify Notifier, opts Options) *Coordinator {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 250 * time.Millisecond
	}
	return &Coordinator{
		store:  st,
		idx:    idx,
		logger: logger,
		notify: notify,
		opts:   opts,
		locks:  newKeyedLocks(),
	}
}

// Ingest processes one unit of raw text for the given source identity
// and returns the resulting note id. A second ingestion for the same
// source queues behind the in-flight one; distinct sources proceed in
// parallel. Cancellation is honored until the store write; after that
// the unit is only overwritable by a later ingestion. When indexing
// fails after bounded retries, the id is returned together with an
// IngestError wrapping apperr.ErrIndexing — the note is degraded but
// not lost.
func (c *Coordinator) Ingest(ctx context.Context, source string, raw []byte) (string, error) {
	if source == "" {
		return "", &apperr.IngestError{Source: source, Stage: StageReceived, Err: fmt.Errorf("%w: source identity is required", apperr.ErrValidation)}
	}

	if err := c.locks.acquire(ctx, source); err != nil {
		return "", &apperr.IngestError{Source: source, Stage: StageReceived, Err: err}
	}
	defer c.locks.release(source)

	// Parsing is total; this stage cannot fail.
	res := parser.Parse(raw)

	// Last cancellation point before the note is persisted.
	if err := ctx.Err(); err != nil {
		return "", &apperr.IngestError{Source: source, Stage: StageParsed, Err: err}
	}

	cs := checksum.Sum(raw)
	note := models.Note{
		Source:   source,
		Title:    res.Title,
		Body:     res.Body,
		Tags:     res.Tags,
		Status:   res.Status,
		Links:    res.Links,
		Extra:    res.Extra,
		Checksum: cs,
	}

	existing, err := c.store.GetBySource(ctx, source)
	switch {
	case err == nil:
		if existing.Checksum == cs {
			// Unchanged content; nothing to rewrite or reindex.
			c.logger.Debug("ingest: unchanged", slog.String("source", source), slog.String("id", existing.ID))
			return existing.ID, nil
		}
		note.ID = existing.ID
		note.CreatedAt = existing.CreatedAt
	case errors.Is(err, apperr.ErrNotFound):
		// First ingestion for this source; Put assigns the id.
	default:
		return "", &apperr.IngestError{Source: source, Stage: StageParsed, Err: err}
	}

	id, err := c.store.Put(ctx, &note)
	if err != nil {
		if c.notify != nil {
			c.notify("failed", note.ID, source)
		}
		return "", &apperr.IngestError{Source: source, Stage: StageStored, Err: err}
	}

	if err := c.indexWithRetry(note); err != nil {
		// The store write is not rolled back: the note stays readable by
		// id even though it is missing from the index. The checksum is
		// cleared so re-ingesting the identical content does not
		// short-circuit past the missing postings.
		if clearErr := c.store.SetChecksum(context.WithoutCancel(ctx), id, ""); clearErr != nil {
			c.logger.Error("ingest: clear checksum failed",
				slog.String("id", id),
				slog.String("error", clearErr.Error()))
		}
		c.logger.Error("ingest: indexing failed after retries",
			slog.String("source", source),
			slog.String("id", id),
			slog.String("error", err.Error()))
		if c.notify != nil {
			c.notify("failed", id, source)
		}
		return id, &apperr.IngestError{Source: source, Stage: StageIndexed, Err: err}
	}

	c.logger.Debug("ingest: done", slog.String("source", source), slog.String("id", id))
	if c.notify != nil {
		c.notify("ingested", id, source)
	}
	return id, nil
}

// indexWithRetry upserts the note's postings, retrying a bounded number
// of times with a fixed backoff.
func (c *Coordinator) indexWithRetry(n models.Note) error {
	var last error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.opts.RetryBackoff)
		}
		if last = c.idx.Upsert(index.FromNote(n)); last == nil {
			return nil
		}
		c.logger.Warn("ingest: index attempt failed",
			slog.String("id", n.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", last.Error()))
	}
	return fmt.Errorf("%w: %v", apperr.ErrIndexing, last)
}

// Archive marks the note for a source identity as archived. Archival is
// a status change, not a removal, so backlinks stay resolvable.
func (c *Coordinator) Archive(ctx context.Context, source string) error {
	if err := c.locks.acquire(ctx, source); err != nil {
		return &apperr.IngestError{Source: source, Stage: StageReceived, Err: err}
	}
	defer c.locks.release(source)

	n, err := c.store.GetBySource(ctx, source)
	if err != nil {
		return err
	}
	if err := c.store.SetStatus(ctx, n.ID, models.StatusArchived); err != nil {
		return err
	}
	c.logger.Debug("ingest: archived", slog.String("source", source), slog.String("id", n.ID))
	if c.notify != nil {
		c.notify("archived", n.ID, source)
	}
	return nil
}

// Rebuild reconstructs the entire index from the note store. The index
// carries no information of its own, so this is a pure projection.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	notes, err := c.store.All(ctx)
	if err != nil {
		return fmt.Errorf("ingest: rebuild: %w", err)
	}
	entries := make([]index.Entry, len(notes))
	for i, n := range notes {
		entries[i] = index.FromNote(n)
	}
	if err := c.idx.Rebuild(entries); err != nil {
		return fmt.Errorf("ingest: rebuild: %w", err)
	}
	c.logger.Info("ingest: index rebuilt", slog.Int("notes", len(notes)))
	if c.notify != nil {
		c.notify("rebuilt", "", "")
	}
	return nil
}
