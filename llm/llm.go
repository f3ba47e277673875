package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBackend = errors.New("generation backend error")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the generation parameters sent with every completion request.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

type Client interface {
	Generate(ctx context.Context, messages []Message, params Params) (string, error)
}

// BackendError carries the diagnostic payload of a failed completion call.
type BackendError struct {
	StatusCode int
	Payload    string
	Err        error
}

func (e *BackendError) Error() string {
	msg := ErrBackend.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Payload != "" {
		msg += ": " + e.Payload
	}

	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}
