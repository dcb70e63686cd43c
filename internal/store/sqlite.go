// ABOUTME: SQLite implementation of HighlightStore using modernc.org/sqlite
// ABOUTME: Schema is created on open; every mutation commits before returning

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements HighlightStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLite store at the given path.
// The schema is created if it doesn't exist and parent directories are
// created as needed. Pass ":memory:" for an in-memory store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent reads; FULL sync because a successful mutating call
	// must mean the record is on disk.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the annotations table if it doesn't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS annotations (
			id           TEXT PRIMARY KEY,
			document_id  TEXT NOT NULL,
			owner_id     TEXT NOT NULL,
			quoted_text  TEXT NOT NULL CHECK (quoted_text <> ''),
			start_path   TEXT NOT NULL,
			end_path     TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset   INTEGER NOT NULL,
			text_offset  INTEGER NOT NULL,
			color        TEXT NOT NULL CHECK (color IN ('yellow', 'green', 'blue', 'pink', 'purple')),
			note         TEXT,
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_annotations_document
			ON annotations(document_id);

		CREATE INDEX IF NOT EXISTS idx_annotations_owner
			ON annotations(owner_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// List returns all annotations for a document.
func (s *SQLiteStore) List(ctx context.Context, documentID string) ([]*Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, owner_id, quoted_text,
		       start_path, end_path, start_offset, end_offset, text_offset,
		       color, note, created_at, updated_at
		FROM annotations
		WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, a)
	}
	return annotations, rows.Err()
}

// Create persists a new annotation, assigning its id and timestamps.
func (s *SQLiteStore) Create(ctx context.Context, a *Annotation) error {
	if err := validate(a); err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	touchTimestamps(a, time.Now().UTC())

	startPath, err := json.Marshal(a.Anchor.StartPath)
	if err != nil {
		return fmt.Errorf("encoding start path: %w", err)
	}
	endPath, err := json.Marshal(a.Anchor.EndPath)
	if err != nil {
		return fmt.Errorf("encoding end path: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO annotations (
			id, document_id, owner_id, quoted_text,
			start_path, end_path, start_offset, end_offset, text_offset,
			color, note, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.OwnerID, a.Quoted,
		string(startPath), string(endPath),
		a.Anchor.StartOffset, a.Anchor.EndOffset, a.Anchor.TextOffset,
		string(a.Color), nullableString(a.Note), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting annotation: %w", err)
	}

	s.logger.Debug("annotation created",
		"annotation_id", a.ID,
		"document_id", a.DocumentID,
		"owner_id", a.OwnerID)
	return nil
}

// Update applies a patch to an annotation's mutable fields.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (*Annotation, error) {
	if patch.Color != nil && !patch.Color.Valid() {
		return nil, fmt.Errorf("annotation color is not in the palette")
	}

	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Note != nil {
		a.Note = patch.Note
	}
	if patch.Color != nil {
		a.Color = *patch.Color
	}
	a.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE annotations SET note = ?, color = ?, updated_at = ?
		WHERE id = ?`,
		nullableString(a.Note), string(a.Color), a.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("updating annotation: %w", err)
	}
	return a, nil
}

// Delete removes an annotation. Unknown ids are silently ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM annotations WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting annotation: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// get loads a single annotation by id.
func (s *SQLiteStore) get(ctx context.Context, id string) (*Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, owner_id, quoted_text,
		       start_path, end_path, start_offset, end_offset, text_offset,
		       color, note, created_at, updated_at
		FROM annotations
		WHERE id = ?`, id)
	a, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row scanner) (*Annotation, error) {
	var a Annotation
	var startPath, endPath string
	var note sql.NullString
	err := row.Scan(
		&a.ID, &a.DocumentID, &a.OwnerID, &a.Quoted,
		&startPath, &endPath,
		&a.Anchor.StartOffset, &a.Anchor.EndOffset, &a.Anchor.TextOffset,
		&a.Color, &note, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning annotation: %w", err)
	}

	if err := json.Unmarshal([]byte(startPath), &a.Anchor.StartPath); err != nil {
		return nil, fmt.Errorf("decoding start path: %w", err)
	}
	if err := json.Unmarshal([]byte(endPath), &a.Anchor.EndPath); err != nil {
		return nil, fmt.Errorf("decoding end path: %w", err)
	}
	if note.Valid {
		a.Note = &note.String
	}
	a.Anchor.Quoted = a.Quoted
	return &a, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
