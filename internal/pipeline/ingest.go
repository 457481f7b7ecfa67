package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docembed/internal/chunker"
	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/parser"
)

// Result summarizes one document ingestion. Partial failures are listed in
// Errors; a document that could not be parsed or attached to a file has
// exactly one entry there and nothing else.
type Result struct {
	FileID      string                `json:"file_id,omitempty"`
	Chunks      int                   `json:"chunks"`
	Embedded    int                   `json:"embedded"`
	Stored      int                   `json:"stored"`
	TotalTokens int                   `json:"total_tokens"`
	Errors      []doctree.IngestError `json:"errors"`
}

// Status maps the result onto a terminal job status.
func (r Result) Status() JobStatus {
	switch {
	case len(r.Errors) == 0:
		return StatusCompleted
	case r.Stored > 0:
		return StatusPartial
	}
	return StatusFailed
}

// Observer receives progress while a document is ingested. *Job satisfies it.
type Observer interface {
	SetStatus(status JobStatus, phase string)
	SetTotalChunks(n int)
	IncrChunksProcessed()
}

type noopObserver struct{}

func (noopObserver) SetStatus(JobStatus, string) {}
func (noopObserver) SetTotalChunks(int)          {}
func (noopObserver) IncrChunksProcessed()        {}

// Pipeline runs one document from raw bytes to stored embeddings.
type Pipeline struct {
	normalizer  *parser.Normalizer
	driver      *Driver
	coordinator *Coordinator
	log         *slog.Logger
}

func NewPipeline(normalizer *parser.Normalizer, driver *Driver, coordinator *Coordinator, log *slog.Logger) *Pipeline {
	if normalizer == nil {
		normalizer = &parser.Normalizer{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		normalizer:  normalizer,
		driver:      driver,
		coordinator: coordinator,
		log:         log,
	}
}

// Ingest normalizes, splits, embeds and persists doc. When doc.Format is
// unknown it is classified from the path. obs may be nil.
func (p *Pipeline) Ingest(ctx context.Context, doc doctree.SourceDocument, obs Observer) Result {
	if obs == nil {
		obs = noopObserver{}
	}
	log := p.log.With("project_id", doc.ProjectID, "path", doc.Path)
	fatal := func(phase, msg string, err error) Result {
		log.Error("ingest failed", "phase", phase, "step", msg, "error", err)
		return Result{Errors: []doctree.IngestError{{Path: doc.Path, Message: fmt.Sprintf("%s: %v", msg, err)}}}
	}

	// Phase 1: Parse
	obs.SetStatus(StatusParsing, "parsing")
	format := doc.Format
	if format == doctree.FormatUnknown {
		f, err := parser.Classify(doc.Path)
		if err != nil {
			return fatal("parsing", "classify", err)
		}
		format = f
	}

	meta, content := p.metadata(log, doc.Content, format)
	meta["content_hash"] = ContentHashHex(doc.Content)
	meta["format"] = format.String()

	tree, err := p.normalizer.Normalize(content, format)
	if err != nil {
		return fatal("parsing", "normalize", err)
	}

	// Phase 2: Chunk
	obs.SetStatus(StatusChunking, "chunking")
	sections := chunker.Split(tree)
	chunks := chunker.Chunks(sections, p.driver.Budget())
	obs.SetTotalChunks(len(chunks))
	log.Info("chunked document", "format", format.String(), "sections", len(sections), "chunks", len(chunks))

	fileID, err := p.coordinator.ResolveFile(ctx, doc.ProjectID, doc.Path, meta)
	if err != nil {
		return fatal("resolving", "resolve file", err)
	}

	// Phase 3: Embed
	obs.SetStatus(StatusEmbedding, "embedding")
	embedded := p.driver.EmbedChunks(ctx, fileID, doc.Path, doc.Credential, chunks, obs.IncrChunksProcessed)

	// Phase 4: Store
	obs.SetStatus(StatusStoring, "storing")
	stored, persistErrs := p.coordinator.Persist(ctx, doc.ProjectID, doc.Path, embedded.Records, embedded.TotalTokens)

	res := Result{
		FileID:      fileID,
		Chunks:      len(chunks),
		Embedded:    len(embedded.Records),
		Stored:      stored,
		TotalTokens: embedded.TotalTokens,
		Errors:      append(embedded.Errors, persistErrs...),
	}
	if res.Errors == nil {
		res.Errors = []doctree.IngestError{}
	}
	log.Info("ingest complete",
		"file_id", fileID,
		"chunks", res.Chunks,
		"embedded", res.Embedded,
		"stored", res.Stored,
		"total_tokens", res.TotalTokens,
		"errors", len(res.Errors),
	)
	return res
}

// metadata extracts frontmatter from markup formats and the title from
// HTML. A malformed frontmatter block is logged and the content kept.
func (p *Pipeline) metadata(log *slog.Logger, content []byte, format doctree.Format) (map[string]any, []byte) {
	meta := map[string]any{}
	switch format {
	case doctree.FormatFlowMarkup, doctree.FormatStructuredMarkup, doctree.FormatPlainText:
		fm, body, err := parser.ExtractFrontmatter(content)
		if err != nil {
			log.Warn("ignoring invalid frontmatter", "error", err)
		}
		for k, v := range fm {
			meta[k] = v
		}
		content = body
	case doctree.FormatRichHypertext:
		if title := parser.HTMLTitle(content); title != "" {
			meta["title"] = title
		}
	}
	return meta, content
}
