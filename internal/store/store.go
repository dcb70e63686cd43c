// ABOUTME: Annotation model and the HighlightStore interface for highlight persistence
// ABOUTME: Defines the color palette and the sentinel errors shared by implementations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
)

// ErrNotFound is returned when a requested annotation does not exist.
var ErrNotFound = errors.New("annotation not found")

// Color is one entry of the fixed highlight palette.
type Color string

// The highlight palette. Colors outside this set are rejected at create time.
const (
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPink   Color = "pink"
	ColorPurple Color = "purple"
)

// Palette lists every valid color.
var Palette = []Color{ColorYellow, ColorGreen, ColorBlue, ColorPink, ColorPurple}

// Valid reports whether c is a palette color.
func (c Color) Valid() bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}

// Annotation is one persisted highlight.
// ID, DocumentID and OwnerID are immutable after creation; only Note and
// Color may change. Quoted is the exact text captured at creation time and is
// the ground truth a resolved anchor is verified against.
type Annotation struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	OwnerID    string            `json:"ownerId"`
	Quoted     string            `json:"quotedText"`
	Anchor     anchor.Descriptor `json:"anchor"`
	Color      Color             `json:"color"`
	Note       *string           `json:"note,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Patch describes the mutable fields of an annotation. Nil fields are left
// unchanged.
type Patch struct {
	Note  *string
	Color *Color
}

// HighlightStore persists annotations, scoped by document id.
//
// Every mutating call writes through to durable storage before returning; a
// call that returned successfully cannot lose its data to a crash. List
// returns annotations in unspecified order; callers sort by anchor position.
type HighlightStore interface {
	// List returns all annotations for a document.
	List(ctx context.Context, documentID string) ([]*Annotation, error)

	// Create assigns the id and timestamps, persists the annotation and
	// fills them in on the passed record.
	Create(ctx context.Context, a *Annotation) error

	// Update applies a patch to an annotation's note and color.
	// Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, id string, patch Patch) (*Annotation, error)

	// Delete removes an annotation. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// validate checks the create-time invariants shared by implementations.
func validate(a *Annotation) error {
	if a.DocumentID == "" {
		return errors.New("annotation document id is required")
	}
	if a.OwnerID == "" {
		return errors.New("annotation owner id is required")
	}
	if a.Quoted == "" {
		return errors.New("annotation quoted text must not be empty")
	}
	if !a.Color.Valid() {
		return errors.New("annotation color is not in the palette")
	}
	return nil
}

// touchTimestamps stamps creation and update times, preserving any caller
// supplied creation time (tests backdate records).
func touchTimestamps(a *Annotation, now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}
