package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/docembed/internal/chunker"
	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/embedding"
	"github.com/dgallion1/docembed/internal/retry"
	"github.com/dgallion1/docembed/internal/store"
)

// DefaultMinContentLength is the shortest chunk, in runes after trimming,
// that is worth embedding. Shorter chunks are usually a lone heading.
const DefaultMinContentLength = 20

const snippetRunes = 50

// EmbedResult is what the Driver produced for one document.
type EmbedResult struct {
	Records     []store.SectionRecord
	TotalTokens int
	Errors      []doctree.IngestError
	Chunks      int
}

// Driver embeds the chunks of a document one at a time. A chunk that
// exhausts its retries is reported and skipped; it never aborts the rest.
type Driver struct {
	provider         embedding.Provider
	policy           retry.Policy
	budget           float64
	minContentLength int
	log              *slog.Logger
}

func NewDriver(provider embedding.Provider, policy retry.Policy, budget float64, minContentLength int, log *slog.Logger) *Driver {
	if budget <= 0 {
		budget = chunker.Budget(chunker.DefaultContextTokensCutoff)
	}
	if minContentLength < 0 {
		minContentLength = DefaultMinContentLength
	}
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		provider:         provider,
		policy:           policy,
		budget:           budget,
		minContentLength: minContentLength,
		log:              log,
	}
}

// Budget is the approximate token bound for each chunk.
func (d *Driver) Budget() float64 {
	return d.budget
}

// EmbedAll bounds every section under the token budget and embeds the
// resulting chunks in order.
func (d *Driver) EmbedAll(ctx context.Context, fileID, path, credential string, sections []doctree.Section) EmbedResult {
	return d.EmbedChunks(ctx, fileID, path, credential, chunker.Chunks(sections, d.budget), nil)
}

// EmbedChunks embeds already bounded chunks. done, if set, is called after
// each chunk is handled, whether it was embedded, skipped or failed.
//
// Cancelling ctx stops retries and remaining chunks. The chunk in flight
// gets an error entry and the records produced so far are returned.
func (d *Driver) EmbedChunks(ctx context.Context, fileID, path, credential string, chunks []doctree.Chunk, done func()) EmbedResult {
	res := EmbedResult{Chunks: len(chunks)}
	log := d.log.With("file_id", fileID, "path", path)

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, doctree.IngestError{
				Path:    path,
				Message: fmt.Sprintf("embedding stopped at section starting with %q: %v", snippet(c.Text), err),
			})
			break
		}

		if utf8.RuneCountInString(strings.TrimSpace(c.Text)) < d.minContentLength {
			log.Debug("skipping short chunk", "chunk", c.Index, "section", c.Section)
			if done != nil {
				done()
			}
			continue
		}

		out, err := d.embed(ctx, log, c, credential)
		if done != nil {
			done()
		}
		if err != nil {
			log.Error("embedding failed", "chunk", c.Index, "error", err)
			res.Errors = append(res.Errors, doctree.IngestError{
				Path:    path,
				Message: fmt.Sprintf("embedding section starting with %q: %v", snippet(c.Text), err),
			})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		res.TotalTokens += out.TotalTokens
		res.Records = append(res.Records, store.SectionRecord{
			FileID:     fileID,
			Ordinal:    c.Index,
			Content:    c.Text,
			Embedding:  out.Vector,
			TokenCount: out.TotalTokens,
		})
	}

	log.Info("embedding complete",
		"chunks", res.Chunks,
		"embedded", len(res.Records),
		"errors", len(res.Errors),
		"total_tokens", res.TotalTokens,
	)
	return res
}

// embed calls the provider for one chunk under the retry policy.
func (d *Driver) embed(ctx context.Context, log *slog.Logger, c doctree.Chunk, credential string) (embedding.Result, error) {
	req := embedding.Request{Text: collapseNewlines(c.Text), Credential: credential}
	policy := d.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("retrying embedding",
			"chunk", c.Index,
			"attempt", attempt,
			"wait", wait,
			"transient", embedding.IsTransient(err),
			"error", err,
		)
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (embedding.Result, error) {
		res, err := d.provider.Embed(ctx, req)
		if err == nil && len(res.Vector) == 0 {
			return res, embedding.ErrEmptyEmbedding
		}
		return res, err
	})
}

// collapseNewlines replaces each run of line breaks with a single space.
func collapseNewlines(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	return strings.Join(lines, " ")
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	r := []rune(s)
	return string(r[:snippetRunes]) + "..."
}
