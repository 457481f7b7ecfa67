package embedding

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompatible_Embed(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, http.StatusOK, &calls, func(r *http.Request, req embeddingRequest) {
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "Bearer none", r.Header.Get("Authorization"))
	})

	p, err := NewCompatible(srv.URL, "nomic-embed-text",
		WithTokenCounter(func(s string) int { return len(s) }),
	)
	require.NoError(t, err)

	res, err := p.Embed(context.Background(), Request{Text: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, res.Vector)
	assert.Equal(t, len("hello world"), res.TotalTokens, "usage is counted locally")
}

func TestCompatible_CredentialOverride(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, http.StatusOK, &calls, func(r *http.Request, _ embeddingRequest) {
		assert.Equal(t, "Bearer project-key", r.Header.Get("Authorization"))
	})

	p, err := NewCompatible(srv.URL, "m", WithTokenCounter(func(string) int { return 1 }))
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), Request{Text: "x", Credential: "project-key"})
	require.NoError(t, err)
}

func TestCompatible_RequiresHostAndModel(t *testing.T) {
	_, err := NewCompatible("", "m")
	assert.Error(t, err)
	_, err = NewCompatible("http://localhost:11434/v1", "")
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 2, estimateTokens("abcdefgh"))
}
