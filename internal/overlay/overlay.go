// ABOUTME: Splits document text into segments at highlight boundaries
// ABOUTME: Decoration is strictly additive; overlapping highlights stack instead of clobbering

package overlay

import (
	"sort"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
	"github.com/RcityHarold/rainbow-annotate/internal/document"
)

// Span is one resolved highlight over the flattened document text.
type Span struct {
	ID    string
	Range anchor.Range
}

// Segment is a run of document text together with the ids of every highlight
// covering it. Uncovered runs appear as segments with no active ids, so the
// concatenation of all segment texts reproduces the document text exactly.
type Segment struct {
	Text      string   `json:"text"`
	ActiveIDs []string `json:"activeIds,omitempty"`
}

// Render splits text at every span boundary and tags each resulting segment
// with the spans covering it.
//
// Spans are sorted by start offset, then end offset, then id, which also
// fixes the order ids appear in ActiveIDs; two spans with identical bounds
// both appear, stacked. Zero-length spans and spans outside the text are
// ignored. Offsets are UTF-16 code units, matching anchor ranges.
func Render(text string, spans []Span) []Segment {
	length := document.UTF16Len(text)
	if length == 0 {
		return nil
	}

	clamped := make([]Span, 0, len(spans))
	for _, s := range spans {
		r := s.Range
		if r.Start < 0 {
			r.Start = 0
		}
		if r.End > length {
			r.End = length
		}
		if r.End <= r.Start {
			continue
		}
		clamped = append(clamped, Span{ID: s.ID, Range: r})
	}

	sort.SliceStable(clamped, func(i, j int) bool {
		a, b := clamped[i], clamped[j]
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		if a.Range.End != b.Range.End {
			return a.Range.End < b.Range.End
		}
		return a.ID < b.ID
	})

	bounds := boundaries(length, clamped)

	segments := make([]Segment, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		seg, ok := document.UTF16Slice(text, start, end)
		if !ok {
			// Span offsets that split a surrogate pair cannot come from a
			// valid capture; skip rather than corrupt the output.
			continue
		}
		var active []string
		for _, s := range clamped {
			if s.Range.Start <= start && end <= s.Range.End {
				active = append(active, s.ID)
			}
		}
		segments = append(segments, Segment{Text: seg, ActiveIDs: active})
	}
	return segments
}

// boundaries collects the sorted, de-duplicated cut points: the text edges
// plus every span start and end.
func boundaries(length int, spans []Span) []int {
	seen := map[int]bool{0: true, length: true}
	bounds := []int{0, length}
	for _, s := range spans {
		if !seen[s.Range.Start] {
			seen[s.Range.Start] = true
			bounds = append(bounds, s.Range.Start)
		}
		if !seen[s.Range.End] {
			seen[s.Range.End] = true
			bounds = append(bounds, s.Range.End)
		}
	}
	sort.Ints(bounds)
	return bounds
}
