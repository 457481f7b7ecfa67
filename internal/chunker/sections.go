package chunker

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/parser"
	"github.com/yuin/goldmark/ast"
)

// emptyATXHeading matches a heading line with no text, e.g. "##" or "# ##".
// goldmark records no line segments for these.
var emptyATXHeading = regexp.MustCompile(`^ {0,3}#{1,6}(?:[ \t]+#*)?[ \t]*$`)

type boundary struct {
	start   int
	heading *ast.Heading
}

// Split partitions a document into sections at its top-level headings.
// Content before the first heading forms a leading section with no heading;
// a document without headings is one section, an empty one has none. Each
// section's content is the canonical source from its heading line up to the
// next heading line.
func Split(doc *doctree.Document) []doctree.Section {
	if doc == nil || doc.Root == nil {
		return nil
	}
	src := doc.Source

	var bounds []boundary
	cursor := 0
	for n := doc.Root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			if len(bounds) == 0 {
				bounds = append(bounds, boundary{start: 0})
			}
			if stop := lastStop(n); stop > cursor {
				cursor = stop
			}
			continue
		}
		start, end := headingSpan(h, src, cursor)
		bounds = append(bounds, boundary{start: start, heading: h})
		cursor = end
	}

	sections := make([]doctree.Section, 0, len(bounds))
	for i, b := range bounds {
		end := len(src)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}
		sec := doctree.Section{
			Index:   i,
			Content: trimBlankLines(string(src[b.start:end])),
		}
		if b.heading != nil {
			sec.Heading = parser.InlineText(b.heading, src)
			sec.Level = b.heading.Level
		}
		sections = append(sections, sec)
	}
	return sections
}

// headingSpan returns the byte range of a heading's source lines.
func headingSpan(h *ast.Heading, src []byte, cursor int) (int, int) {
	if lines := h.Lines(); lines.Len() > 0 {
		return lineStart(src, lines.At(0).Start), lines.At(lines.Len() - 1).Stop
	}
	for pos := cursor; pos < len(src); {
		pos = lineStart(src, pos)
		end := len(src)
		if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
			end = pos + i
		}
		if emptyATXHeading.Match(src[pos:end]) {
			return pos, min(end+1, len(src))
		}
		pos = end + 1
	}
	return cursor, cursor
}

// lastStop returns the end offset of the last source line inside n.
func lastStop(n ast.Node) int {
	if n.Type() == ast.TypeBlock {
		if lines := n.Lines(); lines.Len() > 0 {
			return lines.At(lines.Len() - 1).Stop
		}
	}
	for c := n.LastChild(); c != nil; c = c.PreviousSibling() {
		if stop := lastStop(c); stop > 0 {
			return stop
		}
	}
	return 0
}

func lineStart(src []byte, pos int) int {
	pos = min(pos, len(src))
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

// trimBlankLines drops leading blank lines and trailing whitespace. Leading
// indentation on the first content line is significant and kept.
func trimBlankLines(s string) string {
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 || strings.TrimSpace(s[:i]) != "" {
			break
		}
		s = s[i+1:]
	}
	return strings.TrimRight(s, " \t\r\n")
}
