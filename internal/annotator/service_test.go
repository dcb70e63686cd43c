// ABOUTME: Tests for the annotation controller state machine and decorated projection
// ABOUTME: Covers the commit flow, staleness surfacing and projection idempotence

package annotator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
	"github.com/RcityHarold/rainbow-annotate/internal/document"
	"github.com/RcityHarold/rainbow-annotate/internal/selection"
	"github.com/RcityHarold/rainbow-annotate/internal/store"
)

// fakeDocs serves parsed documents from in-memory HTML, re-parsing on every
// Get like a re-render would.
type fakeDocs struct {
	html map[string]string
}

func (f *fakeDocs) Get(id string) (*document.Document, error) {
	h, ok := f.html[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
	}
	return document.ParseHTML(id, h)
}

// staticIdentity returns a fixed user, or an error when empty.
type staticIdentity struct {
	user string
}

func (s staticIdentity) CurrentUser(ctx context.Context) (string, error) {
	if s.user == "" {
		return "", errors.New("no session")
	}
	return s.user, nil
}

const articleHTML = "<p>Well, hello world to everyone!</p>"

func newTestService(t *testing.T) (*Service, *store.MockStore, *fakeDocs) {
	t.Helper()
	m := store.NewMockStore()
	docs := &fakeDocs{html: map[string]string{"article": articleHTML}}
	svc := New(m, docs, staticIdentity{user: "user-1"}, nil)
	return svc, m, docs
}

func captureCandidate(t *testing.T, docs *fakeDocs, documentID string, r anchor.Range) selection.Candidate {
	t.Helper()
	doc, err := docs.Get(documentID)
	require.NoError(t, err)
	desc, err := anchor.Capture(doc, r)
	require.NoError(t, err)
	return selection.Candidate{
		DocumentID: documentID,
		Descriptor: desc,
		Quoted:     desc.Quoted,
		Range:      r,
	}
}

func TestScenario_HelloWorldYellow(t *testing.T) {
	svc, m, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Annotate(ctx, "article", anchor.Range{Start: 6, End: 17}, store.ColorYellow, nil)
	require.NoError(t, err)

	assert.Equal(t, "hello world", a.Quoted)
	assert.Equal(t, store.ColorYellow, a.Color)
	assert.Nil(t, a.Note)
	assert.Equal(t, "user-1", a.OwnerID)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, StateIdle, svc.State())

	decorated, err := svc.ListDecorated(ctx, "article")
	require.NoError(t, err)
	require.Len(t, decorated.Segments, 3)
	assert.Equal(t, "Well, ", decorated.Segments[0].Text)
	assert.Empty(t, decorated.Segments[0].ActiveIDs)
	assert.Equal(t, "hello world", decorated.Segments[1].Text)
	assert.Equal(t, []string{a.ID}, decorated.Segments[1].ActiveIDs)
	assert.Equal(t, " to everyone!", decorated.Segments[2].Text)
	assert.Empty(t, decorated.Segments[2].ActiveIDs)
	assert.Empty(t, decorated.Stale)
}

func TestStateMachine_CommitWithNote(t *testing.T) {
	svc, m, docs := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, StateIdle, svc.State())

	svc.BeginSelection()
	assert.Equal(t, StateSelecting, svc.State())

	svc.HandleCandidate(captureCandidate(t, docs, "article", anchor.Range{Start: 6, End: 17}))
	assert.Equal(t, StateCandidateReady, svc.State())

	require.NoError(t, svc.BeginNote())
	assert.Equal(t, StateColorizing, svc.State())

	note := "favorite phrase"
	a, err := svc.Commit(ctx, store.ColorGreen, &note)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, svc.State())
	require.NotNil(t, a.Note)
	assert.Equal(t, note, *a.Note)
	assert.Equal(t, 1, m.Count())
}

func TestCommit_Unauthenticated(t *testing.T) {
	m := store.NewMockStore()
	docs := &fakeDocs{html: map[string]string{"article": articleHTML}}
	svc := New(m, docs, staticIdentity{user: ""}, nil)

	svc.BeginSelection()
	svc.HandleCandidate(captureCandidate(t, docs, "article", anchor.Range{Start: 6, End: 17}))

	_, err := svc.Commit(context.Background(), store.ColorYellow, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	// The flow aborts entirely: back to idle, candidate gone, nothing stored
	assert.Equal(t, StateIdle, svc.State())
	assert.Equal(t, 0, m.Count())

	_, err = svc.Commit(context.Background(), store.ColorYellow, nil)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestCommit_PersistenceFailureKeepsCandidate(t *testing.T) {
	svc, m, docs := newTestService(t)
	ctx := context.Background()

	svc.BeginSelection()
	svc.HandleCandidate(captureCandidate(t, docs, "article", anchor.Range{Start: 0, End: 4}))

	m.FailWith = errors.New("store unavailable")
	_, err := svc.Commit(ctx, store.ColorBlue, nil)
	require.Error(t, err)
	assert.Equal(t, StateCandidateReady, svc.State(), "failed commit returns to the previous state")
	assert.Equal(t, 0, m.Count())

	// User-initiated retry succeeds once the store recovers
	m.FailWith = nil
	a, err := svc.Commit(ctx, store.ColorBlue, nil)
	require.NoError(t, err)
	assert.Equal(t, "Well", a.Quoted)
	assert.Equal(t, StateIdle, svc.State())
}

func TestCancel_NeverPersistsPartialAnnotation(t *testing.T) {
	svc, m, docs := newTestService(t)

	svc.BeginSelection()
	svc.HandleCandidate(captureCandidate(t, docs, "article", anchor.Range{Start: 6, End: 17}))
	require.NoError(t, svc.BeginNote())

	svc.Cancel()
	assert.Equal(t, StateIdle, svc.State())
	assert.Equal(t, 0, m.Count())

	_, err := svc.Commit(context.Background(), store.ColorYellow, nil)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestListDecorated_SurfacesStaleAnnotations(t *testing.T) {
	svc, _, docs := newTestService(t)
	ctx := context.Background()

	kept, err := svc.Annotate(ctx, "article", anchor.Range{Start: 0, End: 4}, store.ColorYellow, nil)
	require.NoError(t, err)
	doomed, err := svc.Annotate(ctx, "article", anchor.Range{Start: 6, End: 17}, store.ColorPink, nil)
	require.NoError(t, err)

	// The article is edited: "hello world" is gone, "Well" survives
	docs.html["article"] = "<p>Well, goodbye moon to everyone!</p>"

	decorated, err := svc.ListDecorated(ctx, "article")
	require.NoError(t, err)

	require.Len(t, decorated.Annotations, 1, "one annotation still resolves")
	assert.Equal(t, kept.ID, decorated.Annotations[0].ID)

	require.Len(t, decorated.Stale, 1, "the other is surfaced as stale, not dropped")
	assert.Equal(t, doomed.ID, decorated.Stale[0].Annotation.ID)
	assert.Equal(t, anchor.ReasonTextNotFound, decorated.Stale[0].Reason)

	// The stale annotation does not block decoration of the rest
	var covered int
	for _, seg := range decorated.Segments {
		if len(seg.ActiveIDs) > 0 {
			covered++
			assert.Equal(t, []string{kept.ID}, seg.ActiveIDs)
		}
	}
	assert.Equal(t, 1, covered)
}

func TestListDecorated_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Annotate(ctx, "article", anchor.Range{Start: 6, End: 17}, store.ColorYellow, nil)
	require.NoError(t, err)
	_, err = svc.Annotate(ctx, "article", anchor.Range{Start: 12, End: 20}, store.ColorGreen, nil)
	require.NoError(t, err)

	first, err := svc.ListDecorated(ctx, "article")
	require.NoError(t, err)
	second, err := svc.ListDecorated(ctx, "article")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListDecorated_OrdersByAnchorStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Created in reverse document order
	later, err := svc.Annotate(ctx, "article", anchor.Range{Start: 18, End: 29}, store.ColorBlue, nil)
	require.NoError(t, err)
	earlier, err := svc.Annotate(ctx, "article", anchor.Range{Start: 0, End: 4}, store.ColorYellow, nil)
	require.NoError(t, err)

	decorated, err := svc.ListDecorated(ctx, "article")
	require.NoError(t, err)
	require.Len(t, decorated.Annotations, 2)
	assert.Equal(t, earlier.ID, decorated.Annotations[0].ID)
	assert.Equal(t, later.ID, decorated.Annotations[1].ID)
}

func TestAnnotate_EmptySelection(t *testing.T) {
	svc, m, _ := newTestService(t)

	_, err := svc.Annotate(context.Background(), "article", anchor.Range{Start: 5, End: 5}, store.ColorYellow, nil)
	assert.ErrorIs(t, err, anchor.ErrEmptySelection)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, StateIdle, svc.State())
}

func TestAnnotate_UnknownDocument(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Annotate(context.Background(), "ghost", anchor.Range{Start: 0, End: 4}, store.ColorYellow, nil)
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestUpdateAndRemove(t *testing.T) {
	svc, m, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Annotate(ctx, "article", anchor.Range{Start: 6, End: 17}, store.ColorYellow, nil)
	require.NoError(t, err)

	purple := store.ColorPurple
	updated, err := svc.UpdateAnnotation(ctx, a.ID, store.Patch{Color: &purple})
	require.NoError(t, err)
	assert.Equal(t, store.ColorPurple, updated.Color)

	_, err = svc.UpdateAnnotation(ctx, "missing", store.Patch{Color: &purple})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, svc.RemoveAnnotation(ctx, a.ID))
	require.NoError(t, svc.RemoveAnnotation(ctx, a.ID), "delete is idempotent")
	assert.Equal(t, 0, m.Count())
}
