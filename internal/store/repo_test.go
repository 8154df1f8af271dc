package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	n := &models.Note{
		Source:   "notes/a.md",
		Title:    "A",
		Body:     "body of a",
		Tags:     []string{"go"},
		Status:   models.StatusActive,
		Links:    []string{"notes/b.md"},
		Extra:    map[string]any{"author": "me"},
		Checksum: "abc",
	}
	id, err := db.Put(ctx, n)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == "" {
		t.Fatal("expected assigned id")
	}

	got, err := db.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Source != n.Source || got.Title != n.Title || got.Body != n.Body {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "go" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.Links) != 1 || got.Links[0] != "notes/b.md" {
		t.Errorf("links = %v", got.Links)
	}
	if got.Extra["author"] != "me" {
		t.Errorf("extra = %v", got.Extra)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps must be set")
	}
}

func TestPutValidation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Put(ctx, &models.Note{Status: models.StatusDraft}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing source: err = %v, want ErrValidation", err)
	}
	if _, err := db.Put(ctx, &models.Note{Source: "x.md", Status: "bogus"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad status: err = %v, want ErrValidation", err)
	}
}

func TestGetNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := db.GetBySource(context.Background(), "missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutUpdateKeepsCreatedAt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	n := &models.Note{Source: "a.md", Status: models.StatusDraft, Body: "v1"}
	id, err := db.Put(ctx, n)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := db.Get(ctx, id)

	time.Sleep(5 * time.Millisecond)
	n.Body = "v2"
	if _, err := db.Put(ctx, n); err != nil {
		t.Fatal(err)
	}

	second, err := db.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if second.Body != "v2" {
		t.Errorf("body = %q, want v2", second.Body)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on update: %v != %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at did not advance: %v <= %v", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestGetBySource(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Put(ctx, &models.Note{Source: "a.md", Status: models.StatusDraft})
	if err != nil {
		t.Fatal(err)
	}
	got, err := db.GetBySource(ctx, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != id {
		t.Errorf("id = %q, want %q", got.ID, id)
	}
}

func TestListFilterAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	put := func(source, status string, tags ...string) string {
		t.Helper()
		id, err := db.Put(ctx, &models.Note{Source: source, Status: status, Tags: tags})
		if err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
		return id
	}

	put("a.md", models.StatusDraft, "go")
	idB := put("b.md", models.StatusActive, "go", "notes")
	idC := put("c.md", models.StatusActive)

	all, err := db.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Most recently touched first.
	if all[0].ID != idC || all[1].ID != idB {
		t.Errorf("order = [%s %s %s]", all[0].Source, all[1].Source, all[2].Source)
	}

	active, err := db.List(ctx, Filter{Status: models.StatusActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("active len = %d, want 2", len(active))
	}

	tagged, err := db.List(ctx, Filter{Tag: "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 1 || tagged[0].ID != idB {
		t.Errorf("tagged = %v", tagged)
	}

	limited, err := db.List(ctx, Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != idB {
		t.Errorf("limited = %v", limited)
	}
}

func TestListTagFilterMatchesLiterally(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Put(ctx, &models.Note{Source: "a.md", Status: models.StatusDraft, Tags: []string{"abc"}}); err != nil {
		t.Fatal(err)
	}
	idUnderscore, err := db.Put(ctx, &models.Note{Source: "b.md", Status: models.StatusDraft, Tags: []string{"a_c"}})
	if err != nil {
		t.Fatal(err)
	}
	idPercent, err := db.Put(ctx, &models.Note{Source: "c.md", Status: models.StatusDraft, Tags: []string{"100%"}})
	if err != nil {
		t.Fatal(err)
	}

	// "_" and "%" in a tag are literal characters, not LIKE wildcards.
	got, err := db.List(ctx, Filter{Tag: "a_c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != idUnderscore {
		t.Errorf("a_c matched %v", got)
	}

	got, err = db.List(ctx, Filter{Tag: "100%"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != idPercent {
		t.Errorf("100%% matched %v", got)
	}
}

func TestSetChecksum(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	n := &models.Note{Source: "a.md", Status: models.StatusDraft, Checksum: "abc"}
	id, err := db.Put(ctx, n)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := db.Get(ctx, id)

	if err := db.SetChecksum(ctx, id, ""); err != nil {
		t.Fatalf("SetChecksum: %v", err)
	}
	after, err := db.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if after.Checksum != "" {
		t.Errorf("checksum = %q, want cleared", after.Checksum)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("checksum bookkeeping must not touch updated_at")
	}

	if err := db.SetChecksum(ctx, "missing", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Put(ctx, &models.Note{Source: "a.md", Status: models.StatusActive})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetStatus(ctx, id, models.StatusArchived); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ := db.Get(ctx, id)
	if got.Status != models.StatusArchived {
		t.Errorf("status = %q, want archived", got.Status)
	}

	if err := db.SetStatus(ctx, id, "bogus"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad status: err = %v, want ErrValidation", err)
	}
	if err := db.SetStatus(ctx, "missing", models.StatusDraft); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.Put(ctx, &models.Note{Source: "a.md", Status: models.StatusDraft})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := db.Delete(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}
