package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrCorpusMissing   = errors.New("corpus directory missing")
)

type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Hash identifies a document by its content and metadata.
func (d Document) Hash() string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(d.Content))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(d.Metadata[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

type Loader interface {
	Load(ctx context.Context, path string) ([]Document, error)
}

type LoaderError struct {
	Path string
	Err  error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("load %s: %s", e.Path, e.Err.Error())
}

func (e *LoaderError) Unwrap() error {
	return e.Err
}

// Text loads a plain-text transcript as a single document.
type Text struct{}

func (Text) Load(ctx context.Context, path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Content: string(data),
		Metadata: map[string]string{
			"fileName": filepath.Base(path),
			"source":   path,
		},
	}

	return []Document{doc}, nil
}

// Markdown loads a .md or .mdx file, dropping a leading front matter block.
type Markdown struct{}

func (Markdown) Load(ctx context.Context, path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Content: stripFrontMatter(string(data)),
		Metadata: map[string]string{
			"fileName": filepath.Base(path),
			"source":   path,
		},
	}

	return []Document{doc}, nil
}

func stripFrontMatter(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return text
	}

	end := strings.Index(normalized[4:], "\n---")
	if end < 0 {
		return text
	}

	rest := normalized[4+end+len("\n---"):]
	return strings.TrimLeft(rest, "\n")
}
