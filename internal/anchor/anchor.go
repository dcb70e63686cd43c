// ABOUTME: Bidirectional mapping between live text ranges and durable anchor descriptors
// ABOUTME: Path-based resolution with a quoted-text search fallback for edited documents

package anchor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RcityHarold/rainbow-annotate/internal/document"
)

// ErrEmptySelection is returned by Capture for collapsed or empty selections.
var ErrEmptySelection = errors.New("empty selection")

// ErrInvalidRange is returned by Capture for ranges outside the document text
// or offsets that split a surrogate pair. These come from malformed client
// input, not from internal failures.
var ErrInvalidRange = errors.New("selection out of range")

// Range is a half-open [Start, End) span of the flattened document text,
// measured in UTF-16 code units.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the range length in UTF-16 code units.
func (r Range) Len() int {
	return r.End - r.Start
}

// Descriptor is the durable, serializable description of a text range.
// It holds no live references, so it survives reloads and independent
// re-renderings of the same logical document.
type Descriptor struct {
	// StartPath and EndPath address the endpoint text nodes as indices among
	// text-bearing children at each level from the document root. They are
	// equal when the range lives inside a single text node.
	StartPath []int `json:"startPath"`
	EndPath   []int `json:"endPath"`
	// StartOffset and EndOffset are UTF-16 code-unit offsets within the
	// endpoint text nodes.
	StartOffset int `json:"startOffset"`
	EndOffset   int `json:"endOffset"`
	// TextOffset is the range's approximate start within the flattened text,
	// used to pick the nearest occurrence during fallback search.
	TextOffset int `json:"textOffset"`
	// Quoted is the exact captured text, the checksum any resolution is
	// verified against.
	Quoted string `json:"quoted"`
}

// Strategy identifies how a descriptor was resolved.
type Strategy string

const (
	// StrategyExact means the structural path still navigated the tree and
	// the text at the recorded offsets matched the quoted text.
	StrategyExact Strategy = "exact"
	// StrategyByText means the path no longer matched and the quoted text
	// was relocated by searching the flattened document text.
	StrategyByText Strategy = "by_text"
)

// Resolution is a successfully relocated range.
type Resolution struct {
	Range    Range
	Strategy Strategy
}

// FailureReason classifies why a descriptor could not be resolved.
type FailureReason string

const (
	// ReasonStructuralDrift: the recorded path no longer navigates the tree
	// and the quoted text was not found anywhere.
	ReasonStructuralDrift FailureReason = "structural_drift"
	// ReasonTextNotFound: the tree shape still matches the path but the
	// quoted text no longer occurs in the document.
	ReasonTextNotFound FailureReason = "text_not_found"
)

// ResolutionError reports that both resolution strategies failed.
// The annotation it belongs to is stale, not invalid: the caller surfaces it
// and keeps the record.
type ResolutionError struct {
	Reason FailureReason
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("annotation did not resolve: %s", e.Reason)
}

// Capture converts a live range into a durable descriptor.
// Returns ErrEmptySelection for collapsed selections or selections covering
// only whitespace-free emptiness; a descriptor with empty quoted text is
// never produced.
func Capture(doc *document.Document, r Range) (*Descriptor, error) {
	if r.Start == r.End {
		return nil, ErrEmptySelection
	}
	if r.Start < 0 || r.End < r.Start || r.End > doc.Len16() {
		return nil, fmt.Errorf("%w: [%d,%d) out of bounds for document of length %d", ErrInvalidRange, r.Start, r.End, doc.Len16())
	}

	quoted, ok := doc.Slice(r.Start, r.End)
	if !ok {
		return nil, fmt.Errorf("%w: [%d,%d) splits a surrogate pair", ErrInvalidRange, r.Start, r.End)
	}
	if quoted == "" {
		return nil, ErrEmptySelection
	}

	startNode, ok := doc.NodeAt(r.Start)
	if !ok {
		return nil, fmt.Errorf("no text node at offset %d", r.Start)
	}
	// The end offset is exclusive, so the end node is the one containing the
	// last covered code unit.
	endNode, ok := doc.NodeAt(r.End - 1)
	if !ok {
		return nil, fmt.Errorf("no text node at offset %d", r.End-1)
	}

	return &Descriptor{
		StartPath:   startNode.Path,
		EndPath:     endNode.Path,
		StartOffset: r.Start - startNode.Start,
		EndOffset:   r.End - endNode.Start,
		TextOffset:  r.Start,
		Quoted:      quoted,
	}, nil
}

// Resolve relocates a descriptor against a (possibly re-rendered) document.
//
// The structural path is tried first: cheap and precise when the document is
// unchanged. When the path fails to navigate, or navigates to text that no
// longer matches the quoted text, the flattened document text is searched for
// the quoted text instead, preferring the first occurrence at or after the
// recorded offset and falling back to the nearest occurrence before it.
// Resolve never mutates the document or the descriptor and is safe to re-run
// on every display of a document.
func Resolve(desc *Descriptor, doc *document.Document) (Resolution, error) {
	if r, ok := resolveByPath(desc, doc); ok {
		return Resolution{Range: r, Strategy: StrategyExact}, nil
	}

	if r, ok := resolveByText(desc, doc); ok {
		return Resolution{Range: r, Strategy: StrategyByText}, nil
	}

	reason := ReasonTextNotFound
	if !pathsNavigable(desc, doc) {
		reason = ReasonStructuralDrift
	}
	return Resolution{}, &ResolutionError{Reason: reason}
}

// resolveByPath walks the recorded paths and verifies the quoted text.
func resolveByPath(desc *Descriptor, doc *document.Document) (Range, bool) {
	startNode, ok := doc.ResolvePath(desc.StartPath)
	if !ok {
		return Range{}, false
	}
	endNode, ok := doc.ResolvePath(desc.EndPath)
	if !ok {
		return Range{}, false
	}
	if desc.StartOffset > startNode.Len16() || desc.EndOffset > endNode.Len16() {
		return Range{}, false
	}

	r := Range{
		Start: startNode.Start + desc.StartOffset,
		End:   endNode.Start + desc.EndOffset,
	}
	if r.End <= r.Start {
		return Range{}, false
	}

	// The quoted text is the ground truth; a path that navigates to
	// different content is treated as a miss, not a partial match.
	got, ok := doc.Slice(r.Start, r.End)
	if !ok || got != desc.Quoted {
		return Range{}, false
	}
	return r, true
}

// resolveByText scans the flattened text for the quoted text.
func resolveByText(desc *Descriptor, doc *document.Document) (Range, bool) {
	if desc.Quoted == "" {
		return Range{}, false
	}

	text := doc.Text()
	quotedLen := document.UTF16Len(desc.Quoted)

	var starts []int
	for from := 0; ; {
		i := strings.Index(text[from:], desc.Quoted)
		if i < 0 {
			break
		}
		starts = append(starts, document.UTF16Offset(text, from+i))
		from += i + 1
	}
	if len(starts) == 0 {
		return Range{}, false
	}

	// First occurrence at or after the recorded offset wins; otherwise take
	// the closest one before it.
	best := -1
	for _, s := range starts {
		if s >= desc.TextOffset {
			best = s
			break
		}
	}
	if best < 0 {
		best = starts[len(starts)-1]
	}

	return Range{Start: best, End: best + quotedLen}, true
}

// pathsNavigable reports whether both recorded paths still walk the tree,
// regardless of what text they land on. Used only to classify failures.
func pathsNavigable(desc *Descriptor, doc *document.Document) bool {
	startNode, ok := doc.ResolvePath(desc.StartPath)
	if !ok || desc.StartOffset > startNode.Len16() {
		return false
	}
	endNode, ok := doc.ResolvePath(desc.EndPath)
	if !ok || desc.EndOffset > endNode.Len16() {
		return false
	}
	return true
}
