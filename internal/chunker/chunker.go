package chunker

import (
	"strings"

	"github.com/dgallion1/docembed/internal/doctree"
)

// BudgetRatio is the share of the provider's context window a chunk may use.
const BudgetRatio = 0.8

// DefaultContextTokensCutoff is the provider context window assumed when
// none is configured.
const DefaultContextTokensCutoff = 5000

// Budget returns the chunk token budget for a context window.
func Budget(contextTokensCutoff int) float64 {
	return float64(contextTokensCutoff) * BudgetRatio
}

// Bound splits a section into pieces whose estimated size stays under
// budget. Sections already under budget are returned whole. Larger ones are
// cut greedily at line boundaries: a line that would bring the running
// count to the budget starts a new piece, and the count restarts at zero
// without that line. Joining the pieces with "\n" gives back the section.
func Bound(section string, budget float64) []string {
	if ApproxTokens(section) < budget {
		return []string{section}
	}

	var pieces []string
	var buf []string
	count := 0.0

	for _, line := range strings.Split(section, "\n") {
		lineTokens := ApproxTokens(line)
		if count+lineTokens >= budget {
			if len(buf) > 0 {
				pieces = append(pieces, strings.Join(buf, "\n"))
			}
			buf = []string{line}
			count = 0
			continue
		}
		buf = append(buf, line)
		count += lineTokens
	}
	if len(buf) > 0 {
		pieces = append(pieces, strings.Join(buf, "\n"))
	}
	return pieces
}

// Chunks bounds every section and numbers the resulting pieces in order.
func Chunks(sections []doctree.Section, budget float64) []doctree.Chunk {
	var chunks []doctree.Chunk
	for _, s := range sections {
		for _, piece := range Bound(s.Content, budget) {
			chunks = append(chunks, doctree.Chunk{
				Index:   len(chunks),
				Section: s.Index,
				Text:    piece,
			})
		}
	}
	return chunks
}
