package chunker

import "unicode/utf8"

// ApproxTokens estimates a token count with the ~4 characters per token
// heuristic. Exact tokenization is not required for bounding.
func ApproxTokens(text string) float64 {
	return float64(utf8.RuneCountInString(text)) / 4
}
