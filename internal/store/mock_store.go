// ABOUTME: In-memory HighlightStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory HighlightStore for tests.
type MockStore struct {
	mu          sync.RWMutex
	annotations map[string]*Annotation // keyed by annotation ID

	// FailWith, when set, is returned by every mutating call. Lets tests
	// exercise persistence-failure handling without a broken database.
	FailWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		annotations: make(map[string]*Annotation),
	}
}

// List returns all annotations for a document.
func (m *MockStore) List(ctx context.Context, documentID string) ([]*Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Annotation
	for _, a := range m.annotations {
		if a.DocumentID == documentID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// Create stores a new annotation.
func (m *MockStore) Create(ctx context.Context, a *Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	if err := validate(a); err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	touchTimestamps(a, time.Now().UTC())

	// Copy to avoid external modification of the stored record
	c := *a
	m.annotations[c.ID] = &c
	return nil
}

// Update applies a patch to a stored annotation.
func (m *MockStore) Update(ctx context.Context, id string, patch Patch) (*Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return nil, m.FailWith
	}

	a, ok := m.annotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Note != nil {
		a.Note = patch.Note
	}
	if patch.Color != nil {
		a.Color = *patch.Color
	}
	a.UpdatedAt = time.Now().UTC()

	c := *a
	return &c, nil
}

// Delete removes an annotation; unknown ids are ignored.
func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.annotations, id)
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Count returns the number of stored annotations across all documents.
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.annotations)
}
