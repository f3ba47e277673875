package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ledongthuc/pdf"
)

// PDF loads one document per page.
type PDF struct{}

func (PDF) Load(ctx context.Context, path string) ([]Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	total := r.NumPage()

	docs := make([]Document, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}

		docs = append(docs, Document{
			Content: text,
			Metadata: map[string]string{
				"fileName":   filepath.Base(path),
				"source":     path,
				"page":       strconv.Itoa(i),
				"totalPages": strconv.Itoa(total),
			},
		})
	}

	return docs, nil
}
