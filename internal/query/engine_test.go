package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/testutil"
)

func testEngine(t *testing.T) (*Engine, *store.DB, *index.DB) {
	t.Helper()
	st := testutil.TestStore(t)
	idx := testutil.TestIndex(t)
	e := NewEngine(st, idx, Options{Timeout: 2 * time.Second, MaxResults: 50, MinTokenLen: 2})
	return e, st, idx
}

// seed stores a note and projects it into the index.
func seed(t *testing.T, st *store.DB, idx *index.DB, n models.Note) string {
	t.Helper()
	id, err := st.Put(context.Background(), &n)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(index.FromNote(n)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	return id
}

func TestSearchByTag(t *testing.T) {
	e, st, idx := testEngine(t)

	seed(t, st, idx, models.Note{Source: "a.md", Status: models.StatusActive, Tags: []string{"go"}})
	idB := seed(t, st, idx, models.Note{Source: "b.md", Status: models.StatusActive, Tags: []string{"go", "notes"}})
	seed(t, st, idx, models.Note{Source: "c.md", Status: models.StatusActive, Tags: []string{"other"}})

	out, err := e.Search(context.Background(), Query{Kind: KindTag, Tag: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	// Most recently touched first.
	if out[0].ID != idB {
		t.Errorf("first = %s, want %s", out[0].Source, "b.md")
	}
}

func TestSearchByTagRequiresTag(t *testing.T) {
	e, _, _ := testEngine(t)
	if _, err := e.Search(context.Background(), Query{Kind: KindTag}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSearchByTextRanking(t *testing.T) {
	e, st, idx := testEngine(t)

	idLow := seed(t, st, idx, models.Note{Source: "low.md", Status: models.StatusActive, Body: "search mentioned once"})
	idHigh := seed(t, st, idx, models.Note{Source: "high.md", Status: models.StatusActive,
		Title: "search notes", Body: "search the notes, search again"})
	seed(t, st, idx, models.Note{Source: "none.md", Status: models.StatusActive, Body: "unrelated"})

	out, err := e.Search(context.Background(), Query{Kind: KindText, Text: "Search Notes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].ID != idHigh || out[1].ID != idLow {
		t.Errorf("order = [%s %s]", out[0].Source, out[1].Source)
	}
	if out[0].Score <= out[1].Score {
		t.Errorf("scores not descending: %d <= %d", out[0].Score, out[1].Score)
	}
}

func TestSearchByTextTieBreak(t *testing.T) {
	e, st, idx := testEngine(t)

	seed(t, st, idx, models.Note{Source: "older.md", Status: models.StatusActive, Body: "topic"})
	idNewer := seed(t, st, idx, models.Note{Source: "newer.md", Status: models.StatusActive, Body: "topic"})

	out, err := e.Search(context.Background(), Query{Kind: KindText, Text: "topic"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	// Equal scores break on updated_at descending.
	if out[0].ID != idNewer {
		t.Errorf("first = %s, want newer.md", out[0].Source)
	}
}

func TestSearchByTextNoUsableTokens(t *testing.T) {
	e, _, _ := testEngine(t)
	if _, err := e.Search(context.Background(), Query{Kind: KindText, Text: "a ! ?"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSearchLinksOutbound(t *testing.T) {
	e, st, idx := testEngine(t)

	idA := seed(t, st, idx, models.Note{Source: "a.md", Status: models.StatusActive, Links: []string{"b.md", "ghost.md"}})
	idB := seed(t, st, idx, models.Note{Source: "b.md", Status: models.StatusActive, Links: []string{"c.md"}})
	idC := seed(t, st, idx, models.Note{Source: "c.md", Status: models.StatusActive})

	out, err := e.Search(context.Background(), Query{Kind: KindLinks, NoteID: idA})
	if err != nil {
		t.Fatal(err)
	}
	// Depth defaults to 1; ghost.md is dangling and skipped.
	if len(out) != 1 || out[0].ID != idB {
		t.Errorf("depth 1 out = %v", out)
	}

	out, err = e.Search(context.Background(), Query{Kind: KindLinks, NoteID: idA, Depth: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("depth 2 len = %d, want 2", len(out))
	}
	if out[0].ID != idB || out[1].ID != idC {
		t.Errorf("depth 2 out = [%s %s]", out[0].Source, out[1].Source)
	}
}

func TestSearchLinksInbound(t *testing.T) {
	e, st, idx := testEngine(t)

	idA := seed(t, st, idx, models.Note{Source: "a.md", Status: models.StatusActive, Links: []string{"c.md"}})
	idB := seed(t, st, idx, models.Note{Source: "b.md", Status: models.StatusActive, Links: []string{"c.md"}})
	idC := seed(t, st, idx, models.Note{Source: "c.md", Status: models.StatusActive})

	out, err := e.Search(context.Background(), Query{Kind: KindLinks, NoteID: idC, Direction: DirectionIn})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	got := map[string]bool{out[0].ID: true, out[1].ID: true}
	if !got[idA] || !got[idB] {
		t.Errorf("inbound = %v", out)
	}
}

func TestSearchLinksCycleTerminates(t *testing.T) {
	e, st, idx := testEngine(t)

	idA := seed(t, st, idx, models.Note{Source: "a.md", Status: models.StatusActive, Links: []string{"b.md"}})
	idB := seed(t, st, idx, models.Note{Source: "b.md", Status: models.StatusActive, Links: []string{"a.md"}})

	out, err := e.Search(context.Background(), Query{Kind: KindLinks, NoteID: idA, Depth: 10})
	if err != nil {
		t.Fatal(err)
	}
	// The origin is never revisited; b appears exactly once.
	if len(out) != 1 || out[0].ID != idB {
		t.Errorf("out = %v", out)
	}
}

func TestSearchLinksValidation(t *testing.T) {
	e, st, idx := testEngine(t)
	id := seed(t, st, idx, models.Note{Source: "a.md", Status: models.StatusActive})

	if _, err := e.Search(context.Background(), Query{Kind: KindLinks}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing note_id: err = %v, want ErrValidation", err)
	}
	if _, err := e.Search(context.Background(), Query{Kind: KindLinks, NoteID: id, Direction: "sideways"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad direction: err = %v, want ErrValidation", err)
	}
	if _, err := e.Search(context.Background(), Query{Kind: KindLinks, NoteID: "missing"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown origin: err = %v, want ErrNotFound", err)
	}
}

func TestSearchUnknownKind(t *testing.T) {
	e, _, _ := testEngine(t)
	if _, err := e.Search(context.Background(), Query{Kind: "semantic"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSearchLimitBound(t *testing.T) {
	st := testutil.TestStore(t)
	idx := testutil.TestIndex(t)
	e := NewEngine(st, idx, Options{Timeout: 2 * time.Second, MaxResults: 3, MinTokenLen: 2})

	for _, src := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		seed(t, st, idx, models.Note{Source: src, Status: models.StatusActive, Tags: []string{"go"}})
	}

	out, err := e.Search(context.Background(), Query{Kind: KindTag, Tag: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Errorf("len = %d, want cap at 3", len(out))
	}

	out, err = e.Search(context.Background(), Query{Kind: KindTag, Tag: "go", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}

	// A limit above the cap is clamped, never honored.
	out, err = e.Search(context.Background(), Query{Kind: KindTag, Tag: "go", Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Errorf("len = %d, want cap at 3", len(out))
	}
}
