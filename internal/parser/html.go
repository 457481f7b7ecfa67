package parser

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// HTMLConverter handles HTML files.
type HTMLConverter struct{}

func (c *HTMLConverter) Convert(content []byte) ([]byte, error) {
	return htmlToMarkdown(bytes.NewReader(content))
}

// HTMLTitle returns the text of the document's <title>, if any.
func HTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}
	return findTitle(doc)
}

func htmlToMarkdown(r io.Reader) ([]byte, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	root := findBody(doc)
	if root == nil {
		root = doc
	}
	md := blocks(root)
	if md == "" {
		return nil, nil
	}
	return []byte(md + "\n"), nil
}

// singleLine folds hard and soft breaks for contexts that hold one line.
var singleLine = strings.NewReplacer("  \n", " ", "\n", " ")

// skipped elements carry no document content.
var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "nav": true, "footer": true, "header": true,
	"iframe": true, "svg": true, "button": true, "form": true,
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"body": true, "dd": true, "details": true, "div": true, "dl": true,
	"dt": true, "figcaption": true, "figure": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "hr": true, "html": true,
	"li": true, "main": true, "ol": true, "p": true, "pre": true,
	"section": true, "summary": true, "table": true, "ul": true,
}

func isBlock(n *html.Node) bool {
	return n.Type == html.ElementNode && (blockElements[n.Data] || skipped[n.Data])
}

// blocks renders the children of n as markdown blocks separated by blank
// lines. Runs of inline children form one paragraph.
func blocks(n *html.Node) string {
	var out []string
	var para strings.Builder
	flushPara := func() {
		if t := strings.TrimSpace(para.String()); t != "" {
			out = append(out, escapeParagraphStart(t))
		}
		para.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !isBlock(c) {
			para.WriteString(inline(c))
			continue
		}
		flushPara()
		out = append(out, block(c))
	}
	flushPara()
	return joinBlocks(out)
}

func block(n *html.Node) string {
	if skipped[n.Data] {
		return ""
	}
	if level := headingLevel(n.Data); level > 0 {
		title := strings.TrimSpace(inlineChildren(n))
		if title == "" {
			return ""
		}
		return strings.Repeat("#", level) + " " + singleLine.Replace(title)
	}
	switch n.Data {
	case "p", "dt", "summary", "figcaption":
		return escapeParagraphStart(strings.TrimSpace(inlineChildren(n)))
	case "hr":
		return "---"
	case "pre":
		return codeBlock(n)
	case "blockquote":
		return prefixLines(blocks(n), "> ", ">")
	case "ul", "ol":
		return list(n)
	case "table":
		return table(n)
	}
	return blocks(n)
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func list(n *html.Node) string {
	ordered := n.Data == "ol"
	num := 1
	if v := attr(n, "start"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			num = i
		}
	}
	var items []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		marker := "- "
		if ordered {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		body := blocks(c)
		if body == "" {
			body = strings.TrimSpace(inlineChildren(c))
		}
		indent := strings.Repeat(" ", len(marker))
		lines := strings.Split(body, "\n")
		for i, line := range lines {
			switch {
			case i == 0:
				lines[i] = marker + line
			case line != "":
				lines[i] = indent + line
			}
		}
		items = append(items, strings.Join(lines, "\n"))
	}
	return strings.Join(items, "\n")
}

func codeBlock(n *html.Node) string {
	lang := ""
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			for _, class := range strings.Fields(attr(c, "class")) {
				if l, ok := strings.CutPrefix(class, "language-"); ok {
					lang = l
				}
			}
		}
	}
	code := strings.TrimRight(textContent(n), "\n")
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	return fence + lang + "\n" + code + "\n" + fence
}

func table(n *html.Node) string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "tr" {
				var row []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						text := strings.TrimSpace(inlineChildren(cell))
						text = singleLine.Replace(text)
						row = append(row, strings.ReplaceAll(text, "|", `\|`))
					}
				}
				rows = append(rows, row)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	if len(rows) == 0 {
		return ""
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return ""
	}
	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i := range width {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(rows[0])
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func inlineChildren(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(inline(c))
	}
	return sb.String()
}

// inline renders a node as inline markdown.
func inline(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return escapeInline(collapseSpace(n.Data))
	case html.ElementNode:
	default:
		return ""
	}
	if skipped[n.Data] {
		return ""
	}
	switch n.Data {
	case "br":
		// Two trailing spaces make a hard break; paragraph trimming drops
		// them when the break ends the paragraph.
		return "  \n"
	case "img":
		src := attr(n, "src")
		if src == "" {
			return ""
		}
		return "![" + escapeInline(attr(n, "alt")) + "](" + escapeDestination(src) + ")"
	case "a":
		text := strings.TrimSpace(inlineChildren(n))
		href := attr(n, "href")
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return text
		}
		if text == "" {
			text = escapeInline(href)
		}
		return "[" + text + "](" + escapeDestination(href) + ")"
	case "code", "kbd", "samp", "tt":
		return codeSpan(textContent(n))
	case "strong", "b":
		return wrapInline(inlineChildren(n), "**")
	case "em", "i":
		return wrapInline(inlineChildren(n), "*")
	case "del", "s", "strike":
		return wrapInline(inlineChildren(n), "~~")
	}
	if isBlock(n) {
		return " " + inlineChildren(n) + " "
	}
	return inlineChildren(n)
}

// wrapInline puts delimiters around trimmed text, keeping the surrounding
// whitespace outside so emphasis stays valid.
func wrapInline(s, delim string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	lead := s[:strings.Index(s, t)]
	trail := s[len(lead)+len(t):]
	return lead + delim + t + delim + trail
}

func codeSpan(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if s == "" {
		return ""
	}
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}

func escapeInline(s string) string {
	return inlineSpecial.Replace(s)
}

// escapeParagraphStart guards each line of a paragraph against being read
// as a heading, quote or list marker.
func escapeParagraphStart(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = escapeLineStart(strings.TrimLeft(line, " "))
	}
	return strings.Join(lines, "\n")
}

func collapseSpace(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(r)
	}
	if space {
		sb.WriteByte(' ')
	}
	return sb.String()
}

func prefixLines(s, prefix, blank string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = blank
		} else {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return strings.TrimSpace(textContent(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
