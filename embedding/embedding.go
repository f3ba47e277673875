package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBackend = errors.New("embedding backend error")
)

// Embedder turns texts into vectors. Implementations issue a single backend
// request per call and return exactly one vector per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BackendError carries the diagnostic payload of a failed embedding call.
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

// Validate checks a backend response against the request it answers.
// It returns a *BackendError when the count or the shape of the vectors is off.
func Validate(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return &BackendError{
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors)),
		}
	}

	dim := -1
	for i, v := range vectors {
		if len(v) == 0 {
			return &BackendError{
				Err: fmt.Errorf("empty embedding at index %d", i),
			}
		}

		if dim == -1 {
			dim = len(v)
			continue
		}

		if len(v) != dim {
			return &BackendError{
				Err: fmt.Errorf("embedding %d has length %d, want %d", i, len(v), dim),
			}
		}
	}

	return nil
}

// BatchResult is the outcome of one batch passed to Embedder.Embed.
type BatchResult struct {
	Start   int
	Texts   []string
	Vectors [][]float32
	Err     error
}

// Batch embeds texts in batches of size, one backend call per batch.
// A failing batch does not stop the remaining ones.
func Batch(ctx context.Context, e Embedder, texts []string, size int) []BatchResult {
	if size <= 0 {
		size = len(texts)
	}

	results := make([]BatchResult, 0, len(texts)/max(size, 1)+1)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))

		result := BatchResult{
			Start: start,
			Texts: texts[start:end],
		}

		if err := ctx.Err(); err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		vectors, err := e.Embed(ctx, result.Texts)
		if err != nil {
			result.Err = err
		} else {
			result.Vectors = vectors
		}

		results = append(results, result)
	}

	return results
}
