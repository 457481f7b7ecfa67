package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/docembed/internal/doctree"
)

// flowKind is the closed set of nodes the flow-markup tokenizer produces.
type flowKind int

const (
	flowMarkdown flowKind = iota
	flowModuleStatement
	flowBlockExpression
	flowTextExpression
	flowElement
)

// executable reports whether a node holds embedded code or markup that
// cannot be re-serialized as plain markdown. Such nodes are dropped whole.
func (k flowKind) executable() bool {
	switch k {
	case flowModuleStatement, flowBlockExpression, flowTextExpression, flowElement:
		return true
	}
	return false
}

type flowNode struct {
	kind flowKind
	text string
}

// flowResult is either a parsed document or a request to retry the content
// through the structured-markup path.
type flowResult struct {
	Doc              *doctree.Document
	FallbackRequired bool
	Reason           error
}

var (
	errUnclosedExpression = errors.New("unclosed expression")
	errUnclosedElement    = errors.New("unclosed element")
	errUnclosedTag        = errors.New("unclosed tag")
	errUnexpectedClose    = errors.New("unexpected closing tag")
	errMarkupDeclaration  = errors.New("html comments and declarations are not supported")
	errTagExpression      = errors.New("tag syntax is not a valid expression")
)

func normalizeFlow(content []byte) flowResult {
	nodes, err := tokenizeFlow(string(content))
	if err != nil {
		return flowResult{FallbackRequired: true, Reason: err}
	}
	var sb strings.Builder
	for _, n := range nodes {
		if n.kind.executable() {
			continue
		}
		sb.WriteString(n.text)
	}
	return flowResult{Doc: ParseMarkdown([]byte(sb.String()))}
}

// FlowMarkdown returns the canonical markdown of flow-markup content with
// all executable nodes removed.
func FlowMarkdown(content []byte) ([]byte, error) {
	res := normalizeFlow(content)
	if res.FallbackRequired {
		return nil, res.Reason
	}
	return res.Doc.Source, nil
}

type flowScanner struct {
	src   string
	pos   int
	nodes []flowNode
	md    strings.Builder
}

func tokenizeFlow(src string) ([]flowNode, error) {
	s := &flowScanner{src: src}
	blockStart := true
	for s.pos < len(s.src) {
		if s.atLineStart() {
			line := s.line()
			trimmed := strings.TrimSpace(line)
			if fence := fenceMarker(trimmed); fence != "" {
				s.copyFence(fence)
				blockStart = false
				continue
			}
			if trimmed == "" {
				s.md.WriteString(line)
				s.pos += len(line)
				blockStart = true
				continue
			}
			if blockStart {
				handled, err := s.block(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", s.lineNumber(), err)
				}
				if handled {
					continue
				}
			}
			blockStart = false
		}
		if err := s.inline(); err != nil {
			return nil, fmt.Errorf("line %d: %w", s.lineNumber(), err)
		}
	}
	s.flush()
	return s.nodes, nil
}

func (s *flowScanner) atLineStart() bool {
	return s.pos == 0 || s.src[s.pos-1] == '\n'
}

// line returns the current line including its newline.
func (s *flowScanner) line() string {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
		return s.src[s.pos : s.pos+i+1]
	}
	return s.src[s.pos:]
}

func (s *flowScanner) lineNumber() int {
	return strings.Count(s.src[:min(s.pos, len(s.src))], "\n") + 1
}

func (s *flowScanner) flush() {
	if s.md.Len() > 0 {
		s.nodes = append(s.nodes, flowNode{kind: flowMarkdown, text: s.md.String()})
		s.md.Reset()
	}
}

func (s *flowScanner) emit(kind flowKind, text string) {
	s.flush()
	s.nodes = append(s.nodes, flowNode{kind: kind, text: text})
}

// copyFence copies a fenced code block verbatim, through its closing fence
// or to the end of input.
func (s *flowScanner) copyFence(fence string) {
	first := true
	for s.pos < len(s.src) {
		line := s.line()
		s.md.WriteString(line)
		s.pos += len(line)
		if !first && isFenceClose(strings.TrimSpace(line), fence) {
			return
		}
		first = false
	}
}

// block recognizes block-level executable nodes at the start of a block.
// It returns false when the line is ordinary markdown.
func (s *flowScanner) block(line string) (bool, error) {
	trimmed := strings.TrimLeft(line, " \t")
	indent := len(line) - len(trimmed)

	switch {
	case indent == 0 && (strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "export ")):
		start := s.pos
		for s.pos < len(s.src) {
			l := s.line()
			if strings.TrimSpace(l) == "" {
				break
			}
			s.pos += len(l)
		}
		s.emit(flowModuleStatement, s.src[start:s.pos])
		return true, nil

	case strings.HasPrefix(trimmed, "{"):
		open := s.pos + indent
		end, err := scanExpression(s.src, open)
		if err != nil {
			return false, err
		}
		next, ok := restOfLineBlank(s.src, end)
		if !ok {
			return false, nil
		}
		s.emit(flowBlockExpression, s.src[s.pos:next])
		s.pos = next
		return true, nil

	case strings.HasPrefix(trimmed, "<"):
		open := s.pos + indent
		end, isElement, err := scanElement(s.src, open)
		if err != nil {
			return false, err
		}
		if !isElement {
			return false, nil
		}
		next, ok := restOfLineBlank(s.src, end)
		if !ok {
			return false, nil
		}
		s.emit(flowElement, s.src[s.pos:next])
		s.pos = next
		return true, nil
	}
	return false, nil
}

// inline consumes one inline token of a markdown line.
func (s *flowScanner) inline() error {
	c := s.src[s.pos]
	switch c {
	case '\\':
		end := min(s.pos+2, len(s.src))
		s.md.WriteString(s.src[s.pos:end])
		s.pos = end
	case '`':
		s.codeSpan()
	case '{':
		end, err := scanExpression(s.src, s.pos)
		if err != nil {
			return err
		}
		s.emit(flowTextExpression, s.src[s.pos:end])
		s.pos = end
	case '<':
		tag, end, err := scanTag(s.src, s.pos)
		if err != nil {
			return err
		}
		switch tag {
		case tagNone:
			s.md.WriteByte(c)
			s.pos++
			return nil
		case tagAutolink:
			s.md.WriteString(s.src[s.pos:end])
			s.pos = end
			return nil
		}
		// Inline elements are unwrapped: the tag goes, its children stay.
		s.emit(flowElement, s.src[s.pos:end])
		s.pos = end
	default:
		s.md.WriteByte(c)
		s.pos++
	}
	return nil
}

// codeSpan copies a backtick code span verbatim. An unmatched run of
// backticks is literal text.
func (s *flowScanner) codeSpan() {
	end := codeSpanEnd(s.src, s.pos)
	s.md.WriteString(s.src[s.pos:end])
	s.pos = end
}

// scanExpression returns the offset just past the brace that closes the
// expression opened at src[start]. String and template literals may hold
// unbalanced braces.
func scanExpression(src string, start int) (int, error) {
	if start+1 < len(src) && src[start+1] == '%' {
		return 0, errTagExpression
	}
	depth := 0
	for i := start; i < len(src); i++ {
		switch c := src[i]; c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		case '"', '\'', '`':
			end := skipQuoted(src, i)
			if end < 0 {
				return 0, errUnclosedExpression
			}
			i = end - 1
		case '/':
			if i+1 < len(src) && src[i+1] == '*' {
				end := strings.Index(src[i+2:], "*/")
				if end < 0 {
					return 0, errUnclosedExpression
				}
				i += end + 3
			}
		}
	}
	return 0, errUnclosedExpression
}

// skipQuoted returns the offset past the quote closing the literal that
// starts at src[start], or -1.
func skipQuoted(src string, start int) int {
	q := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case q:
			return i + 1
		case '\n':
			if q != '`' {
				return -1
			}
		}
	}
	return -1
}

type tagKind int

const (
	tagNone tagKind = iota
	tagOpen
	tagClose
	tagSelfClose
	// tagAutolink is a <scheme://...> or <user@host> autolink, which is
	// markdown rather than an element.
	tagAutolink
)

var (
	uriAutolink   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]{1,31}:[^\s<>]*$`)
	emailAutolink = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_\x60{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)
)

// autolinkEnd returns the offset past an autolink opened at src[start].
// Namespaced element names such as <svg:rect> are not autolinks.
func autolinkEnd(src string, start int) (int, bool) {
	rest := src[start+1:]
	end := strings.IndexAny(rest, "<> \t\n")
	if end <= 0 || rest[end] != '>' {
		return 0, false
	}
	body := rest[:end]
	if emailAutolink.MatchString(body) ||
		uriAutolink.MatchString(body) && (strings.Contains(body, ":/") || strings.Contains(body, "@")) {
		return start + 1 + end + 1, true
	}
	return 0, false
}

// scanTag reads an element tag at src[start] == '<'. A '<' that does not
// begin a tag yields tagNone.
func scanTag(src string, start int) (tagKind, int, error) {
	i := start + 1
	if i >= len(src) {
		return tagNone, 0, nil
	}
	switch c := src[i]; {
	case c == '!':
		return tagNone, 0, errMarkupDeclaration
	case c == '>':
		return tagOpen, i + 1, nil
	case c == '/':
		i++
		for i < len(src) && isNameByte(src[i]) {
			i++
		}
		for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
			i++
		}
		if i < len(src) && src[i] == '>' {
			return tagClose, i + 1, nil
		}
		return tagNone, 0, errUnclosedTag
	case isLetter(c) || c >= '0' && c <= '9':
		if end, ok := autolinkEnd(src, start); ok {
			return tagAutolink, end, nil
		}
		if !isLetter(c) {
			return tagNone, 0, nil
		}
	default:
		return tagNone, 0, nil
	}

	for i < len(src) && isNameByte(src[i]) {
		i++
	}
	for i < len(src) {
		switch c := src[i]; {
		case c == '>':
			return tagOpen, i + 1, nil
		case c == '/' && i+1 < len(src) && src[i+1] == '>':
			return tagSelfClose, i + 2, nil
		case c == '{':
			end, err := scanExpression(src, i)
			if err != nil {
				return tagNone, 0, err
			}
			i = end
		case c == '"' || c == '\'':
			end := skipQuotedMultiline(src, i)
			if end < 0 {
				return tagNone, 0, errUnclosedTag
			}
			i = end
		default:
			i++
		}
	}
	return tagNone, 0, errUnclosedTag
}

func skipQuotedMultiline(src string, start int) int {
	if end := strings.IndexByte(src[start+1:], src[start]); end >= 0 {
		return start + 1 + end + 1
	}
	return -1
}

// scanElement reads a whole element starting at src[start] == '<',
// including nested children, and returns the offset past its end.
func scanElement(src string, start int) (int, bool, error) {
	depth := 0
	i := start
	for i < len(src) {
		switch src[i] {
		case '<':
			kind, end, err := scanTag(src, i)
			if err != nil {
				return 0, false, err
			}
			switch kind {
			case tagNone:
				if i == start {
					return 0, false, nil
				}
				i++
				continue
			case tagAutolink:
				if i == start {
					return 0, false, nil
				}
				i = end
				continue
			case tagOpen:
				depth++
			case tagClose:
				depth--
				if depth < 0 {
					return 0, false, errUnexpectedClose
				}
			}
			i = end
			if depth == 0 {
				return i, true, nil
			}
		case '{':
			end, err := scanExpression(src, i)
			if err != nil {
				return 0, false, err
			}
			i = end
		default:
			i++
		}
	}
	return 0, false, errUnclosedElement
}

// restOfLineBlank reports whether only whitespace follows src[at] on its
// line, returning the offset of the next line.
func restOfLineBlank(src string, at int) (int, bool) {
	rest := src[at:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return len(src), strings.TrimSpace(rest) == ""
	}
	return at + nl + 1, strings.TrimSpace(rest[:nl]) == ""
}

// fenceMarker returns the fence opening a code block on this line, if any.
func fenceMarker(trimmed string) string {
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(trimmed) && trimmed[n] == ch {
			n++
		}
		if n >= 3 {
			return trimmed[:n]
		}
	}
	return ""
}

func isFenceClose(trimmed, fence string) bool {
	return strings.HasPrefix(trimmed, fence) && strings.Trim(trimmed, fence[:1]) == ""
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameByte(c byte) bool {
	return isLetter(c) || c >= '0' && c <= '9' || c == '.' || c == '-' || c == '_' || c == ':'
}
