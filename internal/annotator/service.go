// ABOUTME: AnnotationService orchestrates capture, persistence and decoration
// ABOUTME: Commit is write-through - no annotation appears committed before the store confirms it

package annotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
	"github.com/RcityHarold/rainbow-annotate/internal/document"
	"github.com/RcityHarold/rainbow-annotate/internal/overlay"
	"github.com/RcityHarold/rainbow-annotate/internal/selection"
	"github.com/RcityHarold/rainbow-annotate/internal/store"
)

// ErrUnauthenticated is returned when a commit is attempted with no acting user.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrNoCandidate is returned when commit or note entry is attempted without a
// pending selection candidate.
var ErrNoCandidate = errors.New("no pending selection candidate")

// State is the controller's position in the annotation flow.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateCandidateReady
	StateColorizing
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateCandidateReady:
		return "candidate_ready"
	case StateColorizing:
		return "colorizing"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// Identity supplies the acting user for commits.
type Identity interface {
	CurrentUser(ctx context.Context) (string, error)
}

// DocumentSource supplies the current rendering of a document.
type DocumentSource interface {
	Get(id string) (*document.Document, error)
}

// StaleAnnotation is a stored annotation whose anchor no longer resolves
// against the current document. It is surfaced, never deleted: the content
// may have shifted and the user's note should not vanish.
type StaleAnnotation struct {
	Annotation *store.Annotation    `json:"annotation"`
	Reason     anchor.FailureReason `json:"reason"`
}

// DecoratedDocument is the projection of a document plus its annotations into
// renderable segments. Annotations holds the resolved records in anchor-start
// order; Stale holds the rest.
type DecoratedDocument struct {
	DocumentID  string              `json:"documentId"`
	Segments    []overlay.Segment   `json:"segments"`
	Annotations []*store.Annotation `json:"annotations"`
	Stale       []StaleAnnotation   `json:"stale,omitempty"`
}

// Service is the annotation controller. It owns the selection state machine
// and composes the store, the anchor resolver and the overlay renderer.
//
// All methods are serialized by an internal mutex; callers behave as a single
// UI thread. Stored state is mutated only through the HighlightStore.
type Service struct {
	store    store.HighlightStore
	docs     DocumentSource
	identity Identity
	logger   *slog.Logger

	// flowMu serializes whole begin-candidate-commit flows (Annotate);
	// mu guards the state fields within each step.
	flowMu    sync.Mutex
	mu        sync.Mutex
	state     State
	candidate *selection.Candidate
}

// New creates an annotation service.
func New(s store.HighlightStore, docs DocumentSource, identity Identity, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		docs:     docs,
		identity: identity,
		logger:   logger.With("component", "annotator"),
	}
}

// State returns the controller's current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginSelection marks the start of a selection gesture.
func (s *Service) BeginSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateSelecting
	}
}

// HandleCandidate accepts a settled, non-empty selection from the capture
// layer. A new candidate replaces any previous one.
func (s *Service) HandleCandidate(c selection.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle, StateSelecting, StateCandidateReady:
		cc := c
		s.candidate = &cc
		s.state = StateCandidateReady
	default:
		// A commit is in flight; the selection gesture is stale
		s.logger.Debug("ignoring candidate in state", "state", s.state.String())
	}
}

// BeginNote opens the note affordance for the pending candidate.
// Text entry does not change state further until Commit or Cancel.
func (s *Service) BeginNote() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCandidateReady {
		return ErrNoCandidate
	}
	s.state = StateColorizing
	return nil
}

// Cancel abandons any pending candidate and returns to idle.
// No partial annotation is ever persisted.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = nil
	s.state = StateIdle
}

// Commit persists the pending candidate with the chosen color and optional
// note. The store write completes (or fails) before the controller leaves
// the committing state. A store failure keeps the candidate so the user can
// retry; an unauthenticated commit aborts the whole flow back to idle.
func (s *Service) Commit(ctx context.Context, color store.Color, note *string) (*store.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCandidateReady && s.state != StateColorizing {
		return nil, ErrNoCandidate
	}
	prev := s.state
	cand := s.candidate

	owner, err := s.identity.CurrentUser(ctx)
	if err != nil || owner == "" {
		// No session to retry under; the candidate is abandoned
		s.candidate = nil
		s.state = StateIdle
		return nil, fmt.Errorf("%w: no acting user", ErrUnauthenticated)
	}

	s.state = StateCommitting
	a := &store.Annotation{
		DocumentID: cand.DocumentID,
		OwnerID:    owner,
		Quoted:     cand.Quoted,
		Anchor:     *cand.Descriptor,
		Color:      color,
		Note:       note,
	}
	if err := s.store.Create(ctx, a); err != nil {
		// Back to where the user was; retry is always user-initiated
		s.state = prev
		return nil, fmt.Errorf("persisting annotation: %w", err)
	}

	s.logger.Info("annotation committed",
		"annotation_id", a.ID,
		"document_id", a.DocumentID,
		"color", string(a.Color))

	s.candidate = nil
	s.state = StateIdle
	return a, nil
}

// Annotate runs the full flow for an already-captured range in one call:
// capture the range, adopt it as the candidate and commit it. This is the
// non-interactive path the HTTP surface uses.
func (s *Service) Annotate(ctx context.Context, documentID string, r anchor.Range, color store.Color, note *string) (*store.Annotation, error) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()

	doc, err := s.docs.Get(documentID)
	if err != nil {
		return nil, err
	}
	desc, err := anchor.Capture(doc, r)
	if err != nil {
		return nil, err
	}

	s.BeginSelection()
	s.HandleCandidate(selection.Candidate{
		DocumentID: documentID,
		Descriptor: desc,
		Quoted:     desc.Quoted,
		Range:      r,
	})
	a, err := s.Commit(ctx, color, note)
	if err != nil {
		s.Cancel()
		return nil, err
	}
	return a, nil
}

// UpdateAnnotation patches an annotation's note or color.
func (s *Service) UpdateAnnotation(ctx context.Context, id string, patch store.Patch) (*store.Annotation, error) {
	return s.store.Update(ctx, id, patch)
}

// RemoveAnnotation deletes an annotation. Unknown ids are not an error.
func (s *Service) RemoveAnnotation(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// ListAnnotations returns a document's annotations in anchor-start order.
// Annotations that fail to resolve sort after resolved ones, by creation time.
func (s *Service) ListAnnotations(ctx context.Context, documentID string) ([]*store.Annotation, error) {
	d, err := s.ListDecorated(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := d.Annotations
	for _, st := range d.Stale {
		out = append(out, st.Annotation)
	}
	return out, nil
}

// ListDecorated projects a document and its stored annotations into decorated
// segments. The projection is pure: it never mutates stored state, so it is
// idempotent and safe to run on every display. A single unresolvable
// annotation is surfaced as stale and never blocks the rest.
func (s *Service) ListDecorated(ctx context.Context, documentID string) (*DecoratedDocument, error) {
	doc, err := s.docs.Get(documentID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.List(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}

	type resolved struct {
		annotation *store.Annotation
		rng        anchor.Range
	}
	var ok []resolved
	var stale []StaleAnnotation
	for _, a := range records {
		res, err := anchor.Resolve(&a.Anchor, doc)
		if err != nil {
			var resErr *anchor.ResolutionError
			reason := anchor.ReasonTextNotFound
			if errors.As(err, &resErr) {
				reason = resErr.Reason
			}
			s.logger.Debug("annotation is stale",
				"annotation_id", a.ID,
				"document_id", documentID,
				"reason", string(reason))
			stale = append(stale, StaleAnnotation{Annotation: a, Reason: reason})
			continue
		}
		ok = append(ok, resolved{annotation: a, rng: res.Range})
	}

	// Rendering order is anchor start position in document order, not
	// creation time; ties break by end then id so output is deterministic.
	sort.SliceStable(ok, func(i, j int) bool {
		a, b := ok[i], ok[j]
		if a.rng.Start != b.rng.Start {
			return a.rng.Start < b.rng.Start
		}
		if a.rng.End != b.rng.End {
			return a.rng.End < b.rng.End
		}
		return a.annotation.ID < b.annotation.ID
	})
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].Annotation.CreatedAt.Before(stale[j].Annotation.CreatedAt)
	})

	spans := make([]overlay.Span, len(ok))
	annotations := make([]*store.Annotation, len(ok))
	for i, r := range ok {
		spans[i] = overlay.Span{ID: r.annotation.ID, Range: r.rng}
		annotations[i] = r.annotation
	}

	return &DecoratedDocument{
		DocumentID:  documentID,
		Segments:    overlay.Render(doc.Text(), spans),
		Annotations: annotations,
		Stale:       stale,
	}, nil
}
