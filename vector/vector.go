package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrRetrieval         = errors.New("retrieval failed")
	ErrEmptyContent      = errors.New("empty content")
	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrInvalidEmbedding  = errors.New("invalid embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownBackend    = errors.New("unknown vector backend")
)

type Config struct {
	Backend    string `yaml:"backend"`
	Persistent bool   `yaml:"persistent"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	Dimensions int    `yaml:"dimensions"`
}

type Store interface {
	// Ingest stores every record independently. Records that cannot be
	// stored are reported as IngestionErrors joined into the returned error.
	Ingest(ctx context.Context, records []Record) error

	// Query returns at most topK records ordered by descending similarity.
	Query(ctx context.Context, embedding []float32, topK int) ([]Result, error)

	Close() error
}

type Record struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Result struct {
	Record
	Score float64 `json:"score"`
}

type IngestionError struct {
	Record Record
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest record %s: %s", e.Record.ID, e.Err.Error())
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

type ingestionErrorJSON struct {
	Record Record `json:"record"`
	Error  string `json:"error"`
}

func (e *IngestionError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(&ingestionErrorJSON{
		Record: e.Record,
		Error:  msg,
	})
}

func (e *IngestionError) UnmarshalJSON(data []byte) error {
	var raw ingestionErrorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Record = raw.Record
	e.Err = errors.New(raw.Error)
	return nil
}

// IngestionErrors extracts the per-record failures joined into err.
func IngestionErrors(err error) []*IngestionError {
	switch e := err.(type) {
	case nil:
		return nil

	case *IngestionError:
		return []*IngestionError{e}

	case interface{ Unwrap() []error }:
		var errs []*IngestionError
		for _, err := range e.Unwrap() {
			errs = append(errs, IngestionErrors(err)...)
		}

		return errs
	}

	var ingestErr *IngestionError
	if errors.As(err, &ingestErr) {
		return []*IngestionError{ingestErr}
	}

	return nil
}

// Check validates a record against the dimension already fixed by the
// store. A zero dim accepts any non-empty embedding.
func Check(r Record, dim int) error {
	if r.Content == "" {
		return ErrEmptyContent
	}

	if len(r.Embedding) == 0 {
		return ErrEmptyEmbedding
	}

	var norm float64
	for _, v := range r.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: contains NaN or Inf", ErrInvalidEmbedding)
		}

		norm += f * f
	}

	// cosine similarity is undefined for the zero vector
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrInvalidEmbedding)
	}

	if dim > 0 && len(r.Embedding) != dim {
		return fmt.Errorf("%w: expected %d, got %d",
			ErrDimensionMismatch, dim, len(r.Embedding))
	}

	return nil
}

// Rank orders results by descending score, breaking ties by record ID,
// and keeps at most topK. A negative topK keeps nothing.
func Rank(results []Result, topK int) []Result {
	topK = max(topK, 0)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].ID < results[j].ID
	})

	if topK < len(results) {
		results = results[:topK]
	}

	return results
}
