// ABOUTME: Debounced adapter from host selection events to anchor capture
// ABOUTME: Only the final state of a selection gesture produces a candidate

package selection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
	"github.com/RcityHarold/rainbow-annotate/internal/document"
)

// DefaultDebounce is the quiet period after the last selection change before
// a candidate is emitted.
const DefaultDebounce = 250 * time.Millisecond

// Selection is one observed state of the host environment's selection,
// passed in explicitly so tests can supply synthetic selections without a
// live rendering surface.
type Selection struct {
	DocumentID string
	Range      anchor.Range
}

// Collapsed reports whether the selection is zero-length.
func (s Selection) Collapsed() bool {
	return s.Range.End <= s.Range.Start
}

// Candidate is an anchored, non-empty selection ready for the controller.
// Range doubles as the bounding position for the color/note affordance.
type Candidate struct {
	DocumentID string
	Descriptor *anchor.Descriptor
	Quoted     string
	Range      anchor.Range
}

// DocumentSource supplies the current rendering of a document.
type DocumentSource interface {
	Get(id string) (*document.Document, error)
}

// Capture observes selection changes and, after the gesture settles, captures
// the final selection into a Candidate. Collapsed selections cancel any
// pending capture and emit nothing, not even an empty event.
type Capture struct {
	docs        DocumentSource
	onCandidate func(Candidate)
	debounce    time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pending *Selection
	timer   *time.Timer
	closed  bool
}

// New creates a Capture that emits candidates through onCandidate.
// A debounce of 0 uses DefaultDebounce. onCandidate must not call back into
// the Capture.
func New(docs DocumentSource, debounce time.Duration, onCandidate func(Candidate)) *Capture {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Capture{
		docs:        docs,
		onCandidate: onCandidate,
		debounce:    debounce,
		logger:      slog.Default().With("component", "selection"),
	}
}

// Observe records a selection change and restarts the debounce window.
func (c *Capture) Observe(sel Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if sel.Collapsed() {
		c.pending = nil
		return
	}

	s := sel
	c.pending = &s
	c.timer = time.AfterFunc(c.debounce, c.fire)
}

// Flush emits the pending candidate immediately instead of waiting out the
// debounce window. Intended for tests and for explicit gesture-end signals.
func (c *Capture) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.fire()
}

// Close stops any pending capture. No candidate is emitted after Close.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// fire captures the pending selection, if any, and emits the candidate.
// The document lookup and capture run outside the lock, so closed is checked
// again at emission time: a Close that lands mid-capture suppresses the
// candidate, and a newer gesture observed meanwhile supersedes it.
// onCandidate runs with the lock held and must not call back into Capture.
func (c *Capture) fire() {
	c.mu.Lock()
	sel := c.pending
	c.pending = nil
	if sel == nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	doc, err := c.docs.Get(sel.DocumentID)
	if err != nil {
		c.logger.Warn("dropping selection for unavailable document",
			"document_id", sel.DocumentID, "error", err)
		return
	}

	desc, err := anchor.Capture(doc, sel.Range)
	if err != nil {
		// Collapsed or out-of-range by the time the gesture settled
		c.logger.Debug("selection did not capture", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending != nil {
		return
	}
	c.onCandidate(Candidate{
		DocumentID: sel.DocumentID,
		Descriptor: desc,
		Quoted:     desc.Quoted,
		Range:      sel.Range,
	})
}
