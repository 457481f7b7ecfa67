package parser

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExtractFrontmatter splits a leading YAML block fenced by "---" lines from
// the document body. Content without frontmatter is returned unchanged with
// nil meta. When the YAML is invalid the body is still returned, together
// with the decode error, so callers can warn and carry on.
func ExtractFrontmatter(raw []byte) (map[string]any, []byte, error) {
	block, body, ok := splitFrontmatter(raw)
	if !ok {
		return nil, raw, nil
	}
	meta := make(map[string]any)
	if len(bytes.TrimSpace(block)) == 0 {
		return meta, body, nil
	}
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return nil, body, fmt.Errorf("frontmatter: %w", err)
	}
	return meta, body, nil
}

func splitFrontmatter(raw []byte) (block, body []byte, ok bool) {
	src := bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	first, rest, found := bytes.Cut(src, []byte("\n"))
	if !found || string(bytes.TrimRight(first, " \t\r")) != "---" {
		return nil, nil, false
	}
	pos := 0
	for pos <= len(rest) {
		line := rest[pos:]
		next := len(rest)
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
			next = pos + i + 1
		}
		if t := string(bytes.TrimRight(line, " \t\r")); t == "---" || t == "..." {
			return rest[:pos], rest[next:], true
		}
		if next == len(rest) {
			break
		}
		pos = next
	}
	return nil, nil, false
}
