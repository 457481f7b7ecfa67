package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// canonical is the one markdown dialect every format is normalized into:
// CommonMark plus GFM tables, strikethrough and autolinks.
var canonical = goldmark.New(goldmark.WithExtensions(extension.GFM))

// passthrough renders the canonical dialect with raw HTML kept, so text
// inside HTML blocks reaches the HTML walker.
var passthrough = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
)

// ParseMarkdown parses canonical markup into a Document. Plain markdown
// parsing cannot fail; anything goldmark does not recognize becomes text.
func ParseMarkdown(src []byte) *doctree.Document {
	root := canonical.Parser().Parse(text.NewReader(src))
	return &doctree.Document{Source: src, Root: root}
}

// renderHTML renders markdown to HTML. Raw HTML in the input is passed
// through; comments and script content are dropped by htmlToMarkdown.
func renderHTML(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := passthrough.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// InlineText returns the plain text of a node's inline children,
// e.g. the title of a heading.
func InlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			case *ast.CodeSpan:
				walk(t)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}

var (
	lineStartSpecial = regexp.MustCompile(`^(\s*)([#>+=]|-(\s|$)|\d+[.)](\s|$))`)
	inlineSpecial    = strings.NewReplacer(
		`\`, `\\`,
		"*", `\*`,
		"`", "\\`",
		"[", `\[`,
		"]", `\]`,
		"<", `\<`,
	)
)

// escapeText escapes characters in literal text that markdown would
// otherwise interpret, so extracted prose stays prose after re-parsing.
func escapeText(s string) string {
	s = inlineSpecial.Replace(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = escapeLineStart(line)
	}
	return strings.Join(lines, "\n")
}

func escapeLineStart(line string) string {
	m := lineStartSpecial.FindStringSubmatchIndex(line)
	if m == nil {
		return line
	}
	// Insert a backslash before the special marker, after leading space.
	at := m[3]
	if line[at] >= '0' && line[at] <= '9' {
		// Escape the delimiter of an ordered list marker: "1\. ".
		end := at
		for end < len(line) && line[end] >= '0' && line[end] <= '9' {
			end++
		}
		return line[:end] + `\` + line[end:]
	}
	return line[:at] + `\` + line[at:]
}

// joinBlocks joins non-empty markdown blocks with a blank line.
func joinBlocks(blocks []string) string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return strings.Join(out, "\n\n")
}
