package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

type Config struct {
	Paths    []string `yaml:"paths"`
	Required bool     `yaml:"required"`
}

func DefaultLoaders() map[string]Loader {
	return map[string]Loader{
		".txt": Text{},
		".md":  Markdown{},
		".mdx": Markdown{},
		".pdf": PDF{},
	}
}

func NewDirectory(required bool) *Directory {
	return &Directory{
		Loaders:  DefaultLoaders(),
		Required: required,
		log:      zap.L().With(zap.String("component", "loader")),
	}
}

// Directory walks corpus directories and dispatches every file to the
// loader registered for its extension.
type Directory struct {
	Loaders  map[string]Loader
	Required bool

	log *zap.Logger
}

func (d *Directory) Load(ctx context.Context, root string) ([]Document, error) {
	return d.LoadAll(ctx, []string{root})
}

// LoadAll loads every root in order. Documents with the same hash are
// kept once, in the position they were first seen.
func (d *Directory) LoadAll(ctx context.Context, roots []string) ([]Document, error) {
	seen := make(map[string]Document)
	var docs []Document

	for _, root := range roots {
		log := d.log.With(zap.String("root", root))

		if _, err := os.Stat(root); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}

			if d.Required {
				return nil, fmt.Errorf("%w: %s", ErrCorpusMissing, root)
			}

			log.Warn("corpus directory missing, skipped")
			continue
		}

		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				log.Error("walk failed", zap.Error(&LoaderError{Path: path, Err: err}))
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}

				return nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if entry.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(path))
			loader, ok := d.Loaders[ext]
			if !ok {
				log.Debug("file skipped", zap.String("path", path))
				return nil
			}

			loaded, err := loader.Load(ctx, path)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}

				log.Error("load failed", zap.Error(&LoaderError{Path: path, Err: err}))
				return nil
			}

			for _, doc := range loaded {
				hash := doc.Hash()
				if _, ok := seen[hash]; ok {
					continue
				}

				seen[hash] = doc
				docs = append(docs, doc)
			}

			log.Info("file loaded",
				zap.String("path", path),
				zap.Int("documents", len(loaded)),
			)

			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return docs, nil
}
