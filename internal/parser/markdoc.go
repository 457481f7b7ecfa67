package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// MarkdocConverter handles markdown with {% tag %} blocks. Image tags are
// rewritten to markdown images, every other tag marker is dropped and its
// content kept. The result is rendered to HTML and converted back so all
// formats share one canonical serialization.
type MarkdocConverter struct{}

var errUnterminatedMarkdocTag = errors.New("unterminated {% tag")

func (c *MarkdocConverter) Convert(content []byte) ([]byte, error) {
	expanded, err := expandMarkdocTags(string(content))
	if err != nil {
		return nil, err
	}
	html, err := renderHTML([]byte(expanded))
	if err != nil {
		return nil, err
	}
	return htmlToMarkdown(bytes.NewReader(html))
}

// markdocTag is one parsed {% ... %} tag.
type markdocTag struct {
	name        string
	closing     bool
	selfClosing bool
	attrs       map[string]string
}

// imageTags carry a src attribute and become generic images.
var imageTags = map[string]bool{"img": true, "image": true}

func expandMarkdocTags(src string) (string, error) {
	var out strings.Builder
	var fence string
	pos := 0
	for pos < len(src) {
		if pos == 0 || src[pos-1] == '\n' {
			line := src[pos:]
			if i := strings.IndexByte(line, '\n'); i >= 0 {
				line = line[:i+1]
			}
			trimmed := strings.TrimSpace(line)
			switch {
			case fence != "":
				if isFenceClose(trimmed, fence) {
					fence = ""
				}
				out.WriteString(line)
				pos += len(line)
				continue
			case fenceMarker(trimmed) != "":
				fence = fenceMarker(trimmed)
				out.WriteString(line)
				pos += len(line)
				continue
			}
		}

		switch {
		case src[pos] == '`':
			end := codeSpanEnd(src, pos)
			out.WriteString(src[pos:end])
			pos = end
		case strings.HasPrefix(src[pos:], "{%"):
			end, err := markdocTagEnd(src, pos)
			if err != nil {
				return "", fmt.Errorf("offset %d: %w", pos, err)
			}
			tag := parseMarkdocTag(src[pos+2 : end-2])
			out.WriteString(tag.replacement())
			pos = end
		default:
			out.WriteByte(src[pos])
			pos++
		}
	}
	return out.String(), nil
}

// replacement is the markdown a tag marker turns into.
func (t markdocTag) replacement() string {
	if t.closing || !imageTags[t.name] {
		return ""
	}
	src := t.attrs["src"]
	if src == "" {
		src = t.attrs["primary"]
	}
	if src == "" {
		return ""
	}
	alt := t.attrs["alt"]
	if alt == "" {
		alt = t.attrs["title"]
	}
	return fmt.Sprintf("![%s](%s)", inlineSpecial.Replace(alt), escapeDestination(src))
}

func escapeDestination(dest string) string {
	if strings.ContainsAny(dest, " ()<>") {
		return "<" + strings.NewReplacer("<", "%3C", ">", "%3E").Replace(dest) + ">"
	}
	return dest
}

// markdocTagEnd returns the offset past the "%}" closing the tag opened at
// src[start]. Quoted attribute values may contain "%}".
func markdocTagEnd(src string, start int) (int, error) {
	for i := start + 2; i < len(src); i++ {
		switch src[i] {
		case '"':
			end := skipQuoted(src, i)
			if end < 0 {
				return 0, errUnterminatedMarkdocTag
			}
			i = end - 1
		case '%':
			if i+1 < len(src) && src[i+1] == '}' {
				return i + 2, nil
			}
		}
	}
	return 0, errUnterminatedMarkdocTag
}

func parseMarkdocTag(body string) markdocTag {
	body = strings.TrimSpace(body)
	var t markdocTag
	if strings.HasPrefix(body, "/") {
		t.closing = true
		t.name = strings.TrimSpace(body[1:])
		return t
	}
	if strings.HasSuffix(body, "/") {
		t.selfClosing = true
		body = strings.TrimSpace(strings.TrimSuffix(body, "/"))
	}
	// Variables ($x) and annotations (.class, #id) have no name.
	if body == "" || body[0] == '$' || body[0] == '.' || body[0] == '#' {
		return t
	}
	i := 0
	for i < len(body) && isNameByte(body[i]) {
		i++
	}
	t.name = body[:i]
	t.attrs = parseMarkdocAttributes(body[i:])
	return t
}

// parseMarkdocAttributes reads key=value pairs. Values may be quoted
// strings, bracketed literals or bare words. A leading quoted string is the
// primary attribute.
func parseMarkdocAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
			i++
		}
		if i >= len(s) {
			break
		}
		if s[i] == '"' {
			val, next := readMarkdocValue(s, i)
			if _, ok := attrs["primary"]; !ok {
				attrs["primary"] = val
			}
			i = next
			continue
		}
		start := i
		for i < len(s) && isNameByte(s[i]) {
			i++
		}
		key := s[start:i]
		if key == "" {
			i++
			continue
		}
		if i < len(s) && s[i] == '=' {
			val, next := readMarkdocValue(s, i+1)
			attrs[key] = val
			i = next
			continue
		}
		attrs[key] = "true"
	}
	return attrs
}

func readMarkdocValue(s string, i int) (string, int) {
	if i >= len(s) {
		return "", i
	}
	switch s[i] {
	case '"':
		var sb strings.Builder
		for j := i + 1; j < len(s); j++ {
			switch s[j] {
			case '\\':
				if j+1 < len(s) {
					j++
					sb.WriteByte(s[j])
				}
			case '"':
				return sb.String(), j + 1
			default:
				sb.WriteByte(s[j])
			}
		}
		return sb.String(), len(s)
	case '[', '{':
		opener, closer := s[i], byte(']')
		if opener == '{' {
			closer = '}'
		}
		depth := 0
		for j := i; j < len(s); j++ {
			switch s[j] {
			case opener:
				depth++
			case closer:
				depth--
				if depth == 0 {
					return s[i : j+1], j + 1
				}
			}
		}
		return s[i:], len(s)
	}
	j := i
	for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != '\n' {
		j++
	}
	return s[i:j], j
}

// codeSpanEnd returns the offset past the code span opened at src[start],
// or past the backtick run when it is never closed.
func codeSpanEnd(src string, start int) int {
	run := 0
	for start+run < len(src) && src[start+run] == '`' {
		run++
	}
	delim := src[start : start+run]
	i := start + run
	for i < len(src) {
		j := strings.Index(src[i:], delim)
		if j < 0 {
			break
		}
		k := i + j
		n := 0
		for k+n < len(src) && src[k+n] == '`' {
			n++
		}
		if n == run {
			return k + n
		}
		i = k + n
	}
	return start + run
}
