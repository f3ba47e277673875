// Package openai implements llm.Client against an OpenAI-compatible
// /chat/completions endpoint.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/flarexio/docqa/llm"
)

var _ llm.Client = (*Client)(nil)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 60 * time.Second
)

var (
	ErrMissingAPIKey = errors.New("openai: API key is required")
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	client *gopenai.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	config := gopenai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client: gopenai.NewClientWithConfig(config),
	}, nil
}

func (c *Client) Generate(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
	msgs := make([]gopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = gopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    msgs,
		MaxTokens:   params.MaxTokens,
		Temperature: float32(params.Temperature),
	})
	if err != nil {
		return "", backendError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &llm.BackendError{
			Err: errors.New("no choices in response"),
		}
	}

	return resp.Choices[0].Message.Content, nil
}

func backendError(err error) *llm.BackendError {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		return &llm.BackendError{
			StatusCode: apiErr.HTTPStatusCode,
			Payload:    apiErr.Message,
			Err:        err,
		}
	}

	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.BackendError{
			StatusCode: reqErr.HTTPStatusCode,
			Payload:    string(reqErr.Body),
			Err:        err,
		}
	}

	return &llm.BackendError{Err: err}
}
