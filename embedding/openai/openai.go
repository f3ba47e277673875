// Package openai implements embedding.Embedder against an OpenAI-compatible
// /embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/flarexio/docqa/embedding"
)

var _ embedding.Embedder = (*Client)(nil)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	DefaultTimeout = 30 * time.Second
)

var (
	ErrMissingAPIKey = errors.New("openai: API key is required")
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// RequestsPerSecond throttles outgoing requests; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

type Client struct {
	client     *gopenai.Client
	limiter    *rate.Limiter
	model      string
	dimensions int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}

	config := gopenai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client:     gopenai.NewClientWithConfig(config),
		limiter:    limiter,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &embedding.BackendError{Err: err}
	}

	resp, err := c.client.CreateEmbeddings(ctx, gopenai.EmbeddingRequest{
		Input:      texts,
		Model:      gopenai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, backendError(err)
	}

	if resp.Data == nil {
		return nil, &embedding.BackendError{
			Err: errors.New("missing data in response"),
		}
	}

	if len(resp.Data) != len(texts) {
		return nil, &embedding.BackendError{
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) || vectors[d.Index] != nil {
			return nil, &embedding.BackendError{
				Err: fmt.Errorf("invalid embedding index %d", d.Index),
			}
		}

		vectors[d.Index] = d.Embedding
	}

	if err := embedding.Validate(texts, vectors); err != nil {
		return nil, err
	}

	return vectors, nil
}

// backendError keeps the status code and body the SDK reports.
func backendError(err error) *embedding.BackendError {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return &embedding.BackendError{
			StatusCode: apiErr.HTTPStatusCode,
			Payload:    apiErr.Message,
			Err:        err,
		}
	}

	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return &embedding.BackendError{
			StatusCode: reqErr.HTTPStatusCode,
			Payload:    string(reqErr.Body),
			Err:        err,
		}
	}

	return &embedding.BackendError{Err: err}
}
