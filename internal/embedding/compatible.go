package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// tokenEncoding is the tokenizer used to count usage for hosts that do not
// report it.
const tokenEncoding = "cl100k_base"

// anonymousToken is sent to local hosts that need no authentication.
const anonymousToken = "none"

// Compatible embeds through a self-hosted OpenAI-compatible server
// (Ollama, vLLM, LocalAI, ...) via langchaingo. Those servers rarely
// report usage, so token counts are computed locally.
type Compatible struct {
	host        string
	model       string
	token       string
	countTokens func(string) int
	logger      *slog.Logger

	mu        sync.Mutex
	embedders map[string]embeddings.Embedder
}

// CompatibleOption configures NewCompatible.
type CompatibleOption func(*Compatible)

// WithToken sets the default bearer token.
func WithToken(token string) CompatibleOption {
	return func(c *Compatible) {
		if token != "" {
			c.token = token
		}
	}
}

// WithTokenCounter replaces the tiktoken-based usage counter.
func WithTokenCounter(count func(string) int) CompatibleOption {
	return func(c *Compatible) {
		c.countTokens = count
	}
}

func WithLogger(logger *slog.Logger) CompatibleOption {
	return func(c *Compatible) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCompatible(host, model string, opts ...CompatibleOption) (*Compatible, error) {
	if host == "" {
		return nil, fmt.Errorf("embedding host is required")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	c := &Compatible{
		host:      host,
		model:     model,
		token:     anonymousToken,
		logger:    slog.Default(),
		embedders: make(map[string]embeddings.Embedder),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "compatible-embedder", "host", host)

	if c.countTokens == nil {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			c.logger.Warn("tiktoken unavailable, estimating usage from length", "error", err)
			c.countTokens = estimateTokens
		} else {
			c.countTokens = func(s string) int { return len(enc.Encode(s, nil, nil)) }
		}
	}

	// Fail early on a bad host or model configuration.
	if _, err := c.embedder(c.token); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Compatible) Embed(ctx context.Context, req Request) (Result, error) {
	token := c.token
	if req.Credential != "" {
		token = req.Credential
	}
	e, err := c.embedder(token)
	if err != nil {
		return Result{}, err
	}

	vector, err := e.EmbedQuery(ctx, req.Text)
	if err != nil {
		return Result{}, fmt.Errorf("create embedding: %w", err)
	}
	if len(vector) == 0 {
		return Result{}, ErrEmptyEmbedding
	}
	return Result{
		Vector:      vector,
		TotalTokens: c.countTokens(req.Text),
	}, nil
}

// embedder returns the langchaingo embedder for a token, building it on
// first use.
func (c *Compatible) embedder(token string) (embeddings.Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.embedders[token]; ok {
		return e, nil
	}
	client, err := openai.New(
		openai.WithBaseURL(c.host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(c.model),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	c.embedders[token] = e
	return e, nil
}

func estimateTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}

var _ Provider = (*Compatible)(nil)
