package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "text-embedding-3-small"
	// DefaultDimension is the native size of DefaultModel.
	DefaultDimension = 1536
)

// OpenAI embeds through the OpenAI embeddings endpoint, or any server that
// speaks it when a base URL is set.
type OpenAI struct {
	client    openai.Client
	model     string
	dimension int
}

type openAIOptions struct {
	model      string
	dimension  int
	baseURL    string
	httpClient *http.Client
}

// OpenAIOption configures NewOpenAI.
type OpenAIOption func(*openAIOptions)

func WithModel(model string) OpenAIOption {
	return func(o *openAIOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithDimension requests vectors of the given size. Zero leaves the
// model's native size.
func WithDimension(dimension int) OpenAIOption {
	return func(o *openAIOptions) {
		o.dimension = dimension
	}
}

func WithBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) {
		o.baseURL = url
	}
}

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *openAIOptions) {
		o.httpClient = c
	}
}

// NewOpenAI builds a provider. SDK-level retries are disabled so the
// caller's retry policy is the only one in effect.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	options := openAIOptions{
		model:     DefaultModel,
		dimension: DefaultDimension,
	}
	for _, opt := range opts {
		opt(&options)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
	}
	if options.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(options.httpClient))
	}

	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     options.model,
		dimension: options.dimension,
	}
}

func (e *OpenAI) Embed(ctx context.Context, req Request) (Result, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(req.Text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	var callOpts []option.RequestOption
	if req.Credential != "" {
		callOpts = append(callOpts, option.WithAPIKey(req.Credential))
	}

	resp, err := e.client.Embeddings.New(ctx, params, callOpts...)
	if err != nil {
		return Result{}, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return Result{}, ErrEmptyEmbedding
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return Result{
		Vector:      vector,
		TotalTokens: int(resp.Usage.TotalTokens),
	}, nil
}

func (e *OpenAI) Model() string {
	return e.model
}

func (e *OpenAI) Dimension() int {
	return e.dimension
}

// IsTransient reports whether err is a rate limit or server-side failure
// from an OpenAI-compatible API.
func IsTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

var _ Provider = (*OpenAI)(nil)
