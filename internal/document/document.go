// ABOUTME: Immutable view of one rendering of an article as a parsed HTML tree
// ABOUTME: Indexes text nodes with structural paths and UTF-16 offsets into the flattened text

package document

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"golang.org/x/net/html"
)

// Document is a read-only view of a single rendering of an article.
// It owns the parsed HTML tree, the flattened text (the concatenation of all
// text-bearing text nodes in document order) and an index of those nodes.
// A Document is never mutated after construction and is safe to share.
type Document struct {
	id    string
	root  *html.Node // the <body> element of the parsed rendering
	text  string
	nodes []TextNode
	index map[*html.Node]int // text node -> position in nodes
}

// TextNode is one text-bearing text node inside a Document.
type TextNode struct {
	Node *html.Node
	// Path is the route from the document root to this node, one index per
	// level, counting only text-bearing children at each level. Counting
	// text-bearing children (rather than raw child position) keeps paths
	// stable across renders that differ only in whitespace or empty markup.
	Path []int
	// Start is the UTF-16 offset of this node's text within the flattened text.
	Start int
	Text  string
}

// Len16 returns the UTF-16 code-unit length of the node's text.
func (n TextNode) Len16() int {
	return UTF16Len(n.Text)
}

// ParseHTML parses a rendered HTML fragment into a Document.
func ParseHTML(id, rendered string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("parsing rendered document: %w", err)
	}

	body := findBody(root)
	if body == nil {
		return nil, fmt.Errorf("rendered document has no body")
	}

	d := &Document{
		id:    id,
		root:  body,
		index: make(map[*html.Node]int),
	}

	var text strings.Builder
	var offset int
	var walk func(n *html.Node, path []int)
	walk = func(n *html.Node, path []int) {
		i := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !textBearing(c) {
				continue
			}
			childPath := append(append([]int(nil), path...), i)
			if c.Type == html.TextNode {
				tn := TextNode{
					Node:  c,
					Path:  childPath,
					Start: offset,
					Text:  c.Data,
				}
				d.index[c] = len(d.nodes)
				d.nodes = append(d.nodes, tn)
				text.WriteString(c.Data)
				offset += UTF16Len(c.Data)
			} else {
				walk(c, childPath)
			}
			i++
		}
	}
	walk(body, nil)

	d.text = text.String()
	return d, nil
}

// ID returns the logical document identity this rendering belongs to.
func (d *Document) ID() string {
	return d.id
}

// Root returns the element the structural paths are relative to.
func (d *Document) Root() *html.Node {
	return d.root
}

// Text returns the flattened text of the document.
func (d *Document) Text() string {
	return d.text
}

// Len16 returns the UTF-16 code-unit length of the flattened text.
func (d *Document) Len16() int {
	return UTF16Len(d.text)
}

// TextNodes returns the text nodes in document order.
func (d *Document) TextNodes() []TextNode {
	return d.nodes
}

// Slice returns the flattened text between two UTF-16 offsets.
// ok is false when the offsets are out of range or split a surrogate pair.
func (d *Document) Slice(start, end int) (string, bool) {
	return UTF16Slice(d.text, start, end)
}

// NodeAt returns the text node containing the given UTF-16 offset into the
// flattened text. An offset on a node boundary belongs to the later node.
func (d *Document) NodeAt(offset int) (TextNode, bool) {
	if offset < 0 || offset >= d.Len16() || len(d.nodes) == 0 {
		return TextNode{}, false
	}
	i := sort.Search(len(d.nodes), func(i int) bool {
		return d.nodes[i].Start > offset
	})
	return d.nodes[i-1], true
}

// ResolvePath walks the tree along a recorded structural path.
// It fails when the path no longer navigates the current tree shape or does
// not land on a text node.
func (d *Document) ResolvePath(path []int) (TextNode, bool) {
	if len(path) == 0 {
		return TextNode{}, false
	}
	n := d.root
	for depth, want := range path {
		var next *html.Node
		i := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !textBearing(c) {
				continue
			}
			if i == want {
				next = c
				break
			}
			i++
		}
		if next == nil {
			return TextNode{}, false
		}
		if depth == len(path)-1 {
			idx, ok := d.index[next]
			if !ok {
				return TextNode{}, false
			}
			return d.nodes[idx], true
		}
		n = next
	}
	return TextNode{}, false
}

// textBearing reports whether a node's subtree contributes text to the
// flattened document. Whitespace-only text nodes (the newlines markdown
// renderers emit between block elements) do not count.
func textBearing(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return strings.TrimSpace(n.Data) != ""
	case html.ElementNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if textBearing(c) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if body := findBody(c); body != nil {
			return body
		}
	}
	return nil
}

// UTF16Len returns the length of s in UTF-16 code units.
// Anchor offsets are code-unit counts so they stay consistent with the
// selection offsets browsers report.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// UTF16Offset returns the UTF-16 code-unit count of s[:byteOff].
func UTF16Offset(s string, byteOff int) int {
	return UTF16Len(s[:byteOff])
}

// UTF16Slice returns the substring of s between two UTF-16 code-unit offsets.
// ok is false when an offset is out of range or falls inside a surrogate pair.
func UTF16Slice(s string, start, end int) (string, bool) {
	if start < 0 || end < start {
		return "", false
	}
	startByte, ok := utf16ToByte(s, start)
	if !ok {
		return "", false
	}
	endByte, ok := utf16ToByte(s, end)
	if !ok {
		return "", false
	}
	return s[startByte:endByte], true
}

// utf16ToByte converts a UTF-16 code-unit offset into a byte offset.
func utf16ToByte(s string, off int) (int, bool) {
	if off == 0 {
		return 0, true
	}
	units := 0
	for i, r := range s {
		if units == off {
			return i, true
		}
		if units > off {
			// off pointed into the middle of a surrogate pair
			return 0, false
		}
		units += utf16.RuneLen(r)
	}
	if units == off {
		return len(s), true
	}
	return 0, false
}
