package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docembed/internal/doctree"
	"github.com/dgallion1/docembed/internal/embedding"
	"github.com/dgallion1/docembed/internal/parser"
	"github.com/dgallion1/docembed/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func paragraph(word string, n int) string {
	s := strings.Repeat(word+" ", n)
	return strings.TrimSpace(s)
}

func source(path, content string) doctree.SourceDocument {
	return doctree.SourceDocument{ProjectID: "p1", Path: path, Content: []byte(content)}
}

func TestIngest_TwoHeadings(t *testing.T) {
	h := newHarness(t)
	h.pipeline.coordinator.now = func() time.Time { return fixedNow }

	body := strings.Repeat("x", 50)
	doc := "# One\n\n" + body + "\n\n# Two\n\n" + body + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/guide.md", doc), nil)

	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 20, res.TotalTokens)
	require.NotEmpty(t, res.FileID)
	assert.Len(t, h.store.stored(res.FileID), 2)

	usage, err := h.counter.Get(context.Background(), store.UsageKey("p1", fixedNow))
	require.NoError(t, err)
	assert.Equal(t, int64(20), usage)
}

func TestEmbedAll_LongSectionIsBounded(t *testing.T) {
	provider := &fakeProvider{}
	d := NewDriver(provider, fastPolicy(1), 0, DefaultMinContentLength, nil)

	lines := make([]string, 200)
	for i := range lines {
		lines[i] = strings.Repeat("a", 99)
	}
	section := doctree.Section{Content: strings.Join(lines, "\n")}
	require.Len(t, section.Content, 19999)

	res := d.EmbedAll(context.Background(), "f1", "big.md", "", []doctree.Section{section})
	assert.Equal(t, 2, res.Chunks)
	assert.Len(t, res.Records, 2)
	assert.Empty(t, res.Errors)

	joined := res.Records[0].Content + "\n" + res.Records[1].Content
	assert.Equal(t, section.Content, joined)
}

func TestIngest_OneChunkFailsPermanently(t *testing.T) {
	h := newHarness(t)
	h.provider.fail = func(req embedding.Request) error {
		if strings.Contains(req.Text, "Beta") {
			return errors.New("429 too many requests")
		}
		return nil
	}

	doc := "# Alpha\n\n" + paragraph("alpha", 10) +
		"\n\n# Beta\n\n" + paragraph("beta", 10) +
		"\n\n# Gamma\n\n" + paragraph("gamma", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/guide.md", doc), nil)

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 2, res.Stored)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "docs/guide.md", res.Errors[0].Path)
	assert.Contains(t, res.Errors[0].Message, `embedding section starting with "# Beta`)
	assert.Contains(t, res.Errors[0].Message, "429")
	// Two successes plus three attempts for the failing chunk.
	assert.Equal(t, int32(5), h.provider.calls.Load())
	assert.Equal(t, StatusPartial, res.Status())
}

func TestIngest_BulkInsertFallsBackToSingleRows(t *testing.T) {
	h := newHarness(t)
	h.store.bulkErr = errors.New("payload too large")

	doc := "# One\n\n" + paragraph("one", 10) + "\n\n# Two\n\n" + paragraph("two", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)

	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 2, res.Stored)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "bulk insert of 2 sections failed")
	assert.Len(t, h.store.stored(res.FileID), 2)
}

func TestIngest_FallbackKeepsSuccessfulRows(t *testing.T) {
	h := newHarness(t)
	h.store.bulkErr = errors.New("payload too large")
	h.store.failOrdinals = map[int]bool{1: true}

	doc := "# One\n\n" + paragraph("one", 10) +
		"\n\n# Two\n\n" + paragraph("two", 10) +
		"\n\n# Three\n\n" + paragraph("three", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)

	assert.Equal(t, 3, res.Embedded)
	assert.Equal(t, 2, res.Stored)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[1].Message, "insert section 1")
	assert.Len(t, h.store.stored(res.FileID), 2)
}

func TestIngest_FileResolutionFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.store.findErr = errors.New("connection refused")

	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", "# A\n\n"+paragraph("a", 20)), nil)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "connection refused")
	assert.Empty(t, res.FileID)
	assert.Zero(t, res.Stored)
	assert.Zero(t, h.provider.calls.Load())
	assert.Equal(t, StatusFailed, res.Status())
}

func TestIngest_UnparseableDocument(t *testing.T) {
	h := newHarness(t)

	res := h.pipeline.Ingest(context.Background(), source("docs/broken.mdoc", "# Title\n\n{% callout \n"), nil)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, parser.ErrUnparseable.Error())
	assert.Zero(t, h.provider.calls.Load())
	files, err := h.store.ListFiles(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngest_UnsupportedFormat(t *testing.T) {
	h := newHarness(t)
	res := h.pipeline.Ingest(context.Background(), source("blob.bin", "\x00\x01"), nil)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "unsupported")
}

func TestIngest_ReingestReplacesSections(t *testing.T) {
	h := newHarness(t)
	doc := "# One\n\n" + paragraph("one", 10) + "\n\n# Two\n\n" + paragraph("two", 10) + "\n"

	first := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)
	second := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)

	assert.Equal(t, first.FileID, second.FileID)
	assert.Contains(t, h.store.deleted, first.FileID)
	assert.Len(t, h.store.stored(first.FileID), 2)
}

func TestIngest_CancellationKeepsProducedRecords(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	driver := NewDriver(providerFunc(func(ctx context.Context, req embedding.Request) (embedding.Result, error) {
		calls++
		if calls == 2 {
			cancel()
			return embedding.Result{}, ctx.Err()
		}
		return embedding.Result{Vector: []float32{1}, TotalTokens: 7}, nil
	}), fastPolicy(5), 0, DefaultMinContentLength, nil)
	h.pipeline.driver = driver

	doc := "# One\n\n" + paragraph("one", 10) +
		"\n\n# Two\n\n" + paragraph("two", 10) +
		"\n\n# Three\n\n" + paragraph("three", 10) + "\n"
	res := h.pipeline.Ingest(ctx, source("docs/a.md", doc), nil)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 7, res.TotalTokens)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "context canceled")
	for _, err := range h.store.ctxErrs {
		assert.NoError(t, err, "persistence must not see the cancelled context")
	}
	assert.Len(t, h.store.stored(res.FileID), 1)
}

func TestIngest_CounterFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.counter.err = errors.New("counter unavailable")

	doc := "# One\n\n" + paragraph("one", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)

	assert.Equal(t, 1, res.Stored)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "record usage of 10 tokens")
}

func TestIngest_NoUsageIncrementWithoutTokens(t *testing.T) {
	h := newHarness(t)
	h.counter.err = errors.New("must not be called")

	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", "# A\n"), nil)
	assert.Empty(t, res.Errors)
	assert.Zero(t, res.TotalTokens)
}

func TestIngest_SkipsShortChunks(t *testing.T) {
	h := newHarness(t)

	doc := "# A\n\n# B\n\n" + paragraph("body", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)

	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 1, res.Embedded)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int32(1), h.provider.calls.Load())
}

func TestIngest_ProviderInputAndRecordContent(t *testing.T) {
	h := newHarness(t)

	doc := "# Title\n\nfirst line of text\nsecond line of text\n"
	src := source("docs/a.md", doc)
	src.Credential = "sk-doc"
	res := h.pipeline.Ingest(context.Background(), src, nil)
	require.Empty(t, res.Errors)

	reqs := h.provider.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "# Title first line of text second line of text", reqs[0].Text)
	assert.Equal(t, "sk-doc", reqs[0].Credential)

	records := h.store.stored(res.FileID)
	require.Len(t, records, 1)
	assert.Equal(t, "# Title\n\nfirst line of text\nsecond line of text", records[0].Content)
	assert.Equal(t, 10, records[0].TokenCount)
}

func TestIngest_EmptyVectorIsAnError(t *testing.T) {
	h := newHarness(t)
	h.pipeline.driver = NewDriver(providerFunc(func(context.Context, embedding.Request) (embedding.Result, error) {
		return embedding.Result{TotalTokens: 3}, nil
	}), fastPolicy(2), 0, DefaultMinContentLength, nil)

	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", "# A\n\n"+paragraph("a", 20)), nil)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, embedding.ErrEmptyEmbedding.Error())
}

func TestIngest_FrontmatterBecomesMeta(t *testing.T) {
	h := newHarness(t)

	doc := "---\ntitle: Guide\ntags: [a, b]\n---\n# One\n\n" + paragraph("one", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/guide.mdx", doc), nil)
	require.Empty(t, res.Errors)

	f, err := h.store.FindFileByPath(context.Background(), "p1", "docs/guide.mdx")
	require.NoError(t, err)
	assert.Equal(t, "Guide", f.Meta["title"])
	assert.Equal(t, "mdx", f.Meta["format"])
	assert.Equal(t, ContentHashHex([]byte(doc)), f.Meta["content_hash"])

	for _, r := range h.store.stored(res.FileID) {
		assert.NotContains(t, r.Content, "title: Guide")
	}
}

func TestIngest_InvalidFrontmatterIsNotFatal(t *testing.T) {
	h := newHarness(t)

	doc := "---\ntitle: [unclosed\n---\n# One\n\n" + paragraph("one", 10) + "\n"
	res := h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), nil)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Stored)
}

func TestIngest_HTMLTitleBecomesMeta(t *testing.T) {
	h := newHarness(t)

	doc := "<html><head><title>Hello</title></head><body><h1>Hi</h1><p>" + paragraph("word", 10) + "</p></body></html>"
	res := h.pipeline.Ingest(context.Background(), source("site/index.html", doc), nil)
	require.Empty(t, res.Errors)

	f, err := h.store.FindFileByPath(context.Background(), "p1", "site/index.html")
	require.NoError(t, err)
	assert.Equal(t, "Hello", f.Meta["title"])
	assert.Equal(t, 1, res.Stored)
}

func TestIngest_ReportsProgressToObserver(t *testing.T) {
	h := newHarness(t)
	job := NewJob("j1", "p1", "docs/a.md", nil, "")

	doc := "# A\n\n# B\n\n" + paragraph("body", 10) + "\n"
	h.pipeline.Ingest(context.Background(), source("docs/a.md", doc), job)

	snap := job.Snapshot()
	assert.Equal(t, 2, snap.Progress.TotalChunks)
	assert.Equal(t, 2, snap.Progress.ChunksProcessed)
	assert.Equal(t, StatusStoring, snap.Status)
}
