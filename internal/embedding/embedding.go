// Package embedding turns text into vectors through an external provider.
package embedding

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned no embedding")

// Request is one text to embed.
type Request struct {
	Text string
	// Credential overrides the provider's configured API key when set.
	Credential string
}

// Result is a vector and the tokens the provider billed for it.
type Result struct {
	Vector      []float32
	TotalTokens int
}

// Provider produces embeddings. Implementations must not retry on their
// own; callers wrap Embed in a retry policy.
type Provider interface {
	Embed(ctx context.Context, req Request) (Result, error)
}

// Instrument wraps p so every call's latency and outcome land in stats.
func Instrument(p Provider, stats *Stats) Provider {
	if stats == nil {
		return p
	}
	return &instrumented{next: p, stats: stats}
}

type instrumented struct {
	next  Provider
	stats *Stats
}

func (i *instrumented) Embed(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := i.next.Embed(ctx, req)
	i.stats.Record(time.Since(start), res.TotalTokens, err)
	return res, err
}
