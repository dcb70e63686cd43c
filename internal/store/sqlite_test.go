// ABOUTME: Tests for the SQLite highlight store
// ABOUTME: Covers CRUD, validation, idempotent delete and durability across reopen

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAnnotation(documentID string) *Annotation {
	return &Annotation{
		DocumentID: documentID,
		OwnerID:    "user-1",
		Quoted:     "hello world",
		Anchor: anchor.Descriptor{
			StartPath:   []int{0, 0},
			EndPath:     []int{0, 0},
			StartOffset: 6,
			EndOffset:   17,
			TextOffset:  6,
			Quoted:      "hello world",
		},
		Color: ColorYellow,
	}
}

func TestCreateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAnnotation("doc-1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Error("expected ID to be set")
	}
	if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := s.List(ctx, "doc-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(got))
	}
	if got[0].Quoted != "hello world" {
		t.Errorf("unexpected quoted text: %q", got[0].Quoted)
	}
	if got[0].Anchor.StartOffset != 6 || got[0].Anchor.EndOffset != 17 {
		t.Errorf("anchor offsets not preserved: %+v", got[0].Anchor)
	}
	if len(got[0].Anchor.StartPath) != 2 {
		t.Errorf("anchor path not preserved: %v", got[0].Anchor.StartPath)
	}
	if got[0].Anchor.Quoted != "hello world" {
		t.Errorf("anchor quoted text not restored: %q", got[0].Anchor.Quoted)
	}

	// Other documents are not visible
	other, err := s.List(ctx, "doc-2")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no annotations for doc-2, got %d", len(other))
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty := testAnnotation("doc-1")
	empty.Quoted = ""
	if err := s.Create(ctx, empty); err == nil {
		t.Error("expected error for empty quoted text")
	}

	badColor := testAnnotation("doc-1")
	badColor.Color = "mauve"
	if err := s.Create(ctx, badColor); err == nil {
		t.Error("expected error for color outside the palette")
	}

	noOwner := testAnnotation("doc-1")
	noOwner.OwnerID = ""
	if err := s.Create(ctx, noOwner); err == nil {
		t.Error("expected error for missing owner")
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAnnotation("doc-1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	note := "worth remembering"
	green := ColorGreen
	updated, err := s.Update(ctx, a.ID, Patch{Note: &note, Color: &green})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Note == nil || *updated.Note != note {
		t.Errorf("note not updated: %v", updated.Note)
	}
	if updated.Color != ColorGreen {
		t.Errorf("color not updated: %s", updated.Color)
	}
	if updated.Quoted != a.Quoted {
		t.Error("quoted text must be immutable")
	}

	// Patch with only color leaves the note alone
	blue := ColorBlue
	updated, err = s.Update(ctx, a.ID, Patch{Color: &blue})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Note == nil || *updated.Note != note {
		t.Errorf("note should be unchanged: %v", updated.Note)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)

	note := "nope"
	_, err := s.Update(context.Background(), "missing-id", Patch{Note: &note})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testAnnotation("doc-1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting again (or an unknown id) is not an error
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete unknown id: %v", err)
	}

	got, err := s.List(ctx, "doc-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no annotations after delete, got %d", len(got))
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "highlights.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	a := testAnnotation("doc-1")
	note := "survives restarts"
	a.Note = &note
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulated process restart: a fresh store over the same file
	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.List(ctx, "doc-1")
	if err != nil {
		t.Fatalf("List after reopen: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 annotation after reopen, got %d", len(got))
	}
	if got[0].ID != a.ID {
		t.Errorf("ID = %q, want %q", got[0].ID, a.ID)
	}
	if got[0].Note == nil || *got[0].Note != note {
		t.Errorf("note not durable: %v", got[0].Note)
	}
	if got[0].CreatedAt.IsZero() {
		t.Errorf("created_at not durable: %v", got[0].CreatedAt)
	}
}
