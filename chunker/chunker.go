package chunker

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("invalid chunk configuration")
)

// Chunk is a bounded window of a source text. Offset is counted in runes.
type Chunk struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

func (c Chunk) Len() int {
	return len([]rune(c.Text))
}

// Validate reports whether size and overlap describe a usable window.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfiguration, size)
	}

	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfiguration, size, overlap)
	}

	return nil
}

// Split advances a window of size runes across text with a stride of
// size-overlap. The last window may be shorter than size.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	chunks := window([]rune(text), 0, size, overlap)

	return Resplit(chunks, size, overlap)
}

// Resplit splits every chunk longer than size with the same window until
// no chunk exceeds size. Offsets of the pieces are rebased onto their parent.
func Resplit(chunks []Chunk, size, overlap int) ([]Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	for {
		oversized := false

		next := make([]Chunk, 0, len(chunks))
		for _, c := range chunks {
			runes := []rune(c.Text)
			if len(runes) == 0 {
				continue
			}

			if len(runes) <= size {
				next = append(next, c)
				continue
			}

			oversized = true
			next = append(next, window(runes, c.Offset, size, overlap)...)
		}

		chunks = next

		if !oversized {
			return chunks, nil
		}
	}
}

func window(runes []rune, base, size, overlap int) []Chunk {
	stride := size - overlap

	chunks := make([]Chunk, 0, len(runes)/stride+1)
	for start := 0; start < len(runes); start += stride {
		end := min(start+size, len(runes))

		chunks = append(chunks, Chunk{
			Text:   string(runes[start:end]),
			Offset: base + start,
		})
	}

	return chunks
}
