// Package query answers read-only lookups against the store and index.
// Queries run concurrently with ingestion and tolerate eventually
// consistent results, but never observe a torn write (both databases
// serve reads from committed transactions only).
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// Query kinds.
const (
	KindTag   = "tag"
	KindText  = "text"
	KindLinks = "links"
)

// Traversal directions for link queries.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Query describes one lookup. Exactly one of Tag, Text, or NoteID is
// used depending on Kind.
type Query struct {
	Kind      string `json:"kind"`
	Tag       string `json:"tag,omitempty"`
	Text      string `json:"text,omitempty"`
	NoteID    string `json:"note_id,omitempty"`
	Direction string `json:"direction,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Options bound query execution.
type Options struct {
	Timeout     time.Duration
	MaxResults  int
	MinTokenLen int
}

// Engine executes queries. It is read-only and safe for unbounded
// concurrent use.
type Engine struct {
	store *store.DB
	idx   *index.DB
	opts  Options
}

// NewEngine creates a query engine over the given store and index.
func NewEngine(st *store.DB, idx *index.DB, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	if opts.MinTokenLen < 1 {
		opts.MinTokenLen = index.DefaultMinTokenLen
	}
	return &Engine{store: st, idx: idx, opts: opts}
}

// Search returns a ranked, bounded-length sequence of note summaries.
// It fails with apperr.ErrTimeout when execution exceeds the configured
// bound and apperr.ErrValidation on a malformed descriptor.
func (e *Engine) Search(ctx context.Context, q Query) ([]models.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var (
		out []models.Summary
		err error
	)
	switch q.Kind {
	case KindTag:
		out, err = e.byTag(ctx, q)
	case KindText:
		out, err = e.byText(ctx, q)
	case KindLinks:
		out, err = e.byLinks(ctx, q)
	default:
		return nil, fmt.Errorf("query: %w: unknown kind %q", apperr.ErrValidation, q.Kind)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperr.ErrTimeout) {
			return nil, fmt.Errorf("query %s: %w", q.Kind, apperr.ErrTimeout)
		}
		return nil, fmt.Errorf("query %s: %w", q.Kind, err)
	}
	return e.bound(out, q.Limit), nil
}

// byTag resolves exact tag membership, most-recently-touched first.
func (e *Engine) byTag(ctx context.Context, q Query) ([]models.Summary, error) {
	if q.Tag == "" {
		return nil, fmt.Errorf("%w: tag is required", apperr.ErrValidation)
	}
	ids, err := e.idx.FindByTag(ctx, q.Tag)
	if err != nil {
		return nil, err
	}
	out, err := e.summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByRecency(out)
	return out, nil
}

// byText ranks notes by summed matching-token occurrences, ties broken
// by updated_at descending then id.
func (e *Engine) byText(ctx context.Context, q Query) ([]models.Summary, error) {
	tokens := index.Tokenize(q.Text, e.opts.MinTokenLen)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text query has no usable tokens", apperr.ErrValidation)
	}
	scores, err := e.idx.Scores(ctx, tokens)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out, err := e.summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Score = scores[out[i].ID]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// byLinks walks the link graph from a note, inbound or outbound,
// breadth-first to a bounded depth. The graph is not guaranteed acyclic:
// a visited set ensures each node appears at most once and the walk
// terminates. Dangling refs (targets never ingested) are skipped.
func (e *Engine) byLinks(ctx context.Context, q Query) ([]models.Summary, error) {
	if q.NoteID == "" {
		return nil, fmt.Errorf("%w: note_id is required", apperr.ErrValidation)
	}
	direction := q.Direction
	if direction == "" {
		direction = DirectionOut
	}
	if direction != DirectionOut && direction != DirectionIn {
		return nil, fmt.Errorf("%w: unknown direction %q", apperr.ErrValidation, q.Direction)
	}
	depth := q.Depth
	if depth <= 0 {
		depth = 1
	}

	origin, err := e.store.Get(ctx, q.NoteID)
	if err != nil {
		return nil, err
	}

	visited := map[string]struct{}{origin.ID: {}}
	frontier := []*models.Note{origin}
	var out []models.Summary

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []*models.Note
		for _, n := range frontier {
			neighbors, err := e.neighbors(ctx, n, direction)
			if err != nil {
				return nil, err
			}
			for _, nb := range neighbors {
				if _, seen := visited[nb.ID]; seen {
					continue
				}
				visited[nb.ID] = struct{}{}
				out = append(out, summarize(*nb))
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return out, nil
}

// neighbors resolves one hop from n in the given direction.
func (e *Engine) neighbors(ctx context.Context, n *models.Note, direction string) ([]*models.Note, error) {
	if direction == DirectionOut {
		refs, err := e.idx.Outlinks(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		var out []*models.Note
		for _, ref := range refs {
			target, err := e.store.GetBySource(ctx, ref)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					continue // dangling ref
				}
				return nil, err
			}
			out = append(out, target)
		}
		return out, nil
	}

	ids, err := e.idx.Backrefs(ctx, n.Source)
	if err != nil {
		return nil, err
	}
	var out []*models.Note
	for _, id := range ids {
		src, err := e.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func (e *Engine) summaries(ctx context.Context, ids []string) ([]models.Summary, error) {
	var out []models.Summary
	for _, id := range ids {
		n, err := e.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				// Index briefly ahead of or behind the store; skip.
				continue
			}
			return nil, err
		}
		out = append(out, summarize(*n))
	}
	return out, nil
}

func (e *Engine) bound(s []models.Summary, limit int) []models.Summary {
	if limit <= 0 || limit > e.opts.MaxResults {
		limit = e.opts.MaxResults
	}
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func summarize(n models.Note) models.Summary {
	return models.Summary{
		ID:        n.ID,
		Source:    n.Source,
		Title:     n.Title,
		Tags:      n.Tags,
		Status:    n.Status,
		UpdatedAt: n.UpdatedAt,
	}
}

func sortByRecency(s []models.Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
