package parser

import (
	"bufio"
	"bytes"
	"strings"
)

// TextConverter handles plain text files. Blank lines separate paragraphs;
// each paragraph is escaped so it stays prose in the canonical tree.
type TextConverter struct{}

func (c *TextConverter) Convert(content []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, escapeText(current.String()))
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(strings.TrimLeft(line, " \t"))
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, escapeText(current.String()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	md := joinBlocks(paragraphs)
	if md == "" {
		return nil, nil
	}
	return []byte(md + "\n"), nil
}
