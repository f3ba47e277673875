package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/flarexio/docqa/vector"
)

const DefaultCollection = "documents"

const (
	// chromem normalizes what it stores, so the caller's vector is kept here.
	metadataEmbedding = "_embedding"

	schemaSuffix      = "_schema"
	schemaDimensionID = "dimension"
)

func NewChromemStore(cfg vector.Config) (vector.Store, error) {
	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, err
		}

		db = d
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	// embeddings are always computed by the caller
	c, err := db.GetOrCreateCollection(name, nil, noEmbeddingFunc)
	if err != nil {
		return nil, err
	}

	schema, err := db.GetOrCreateCollection(name+schemaSuffix, nil, noEmbeddingFunc)
	if err != nil {
		return nil, err
	}

	s := &chromemStore{
		db:         db,
		collection: c,
		schema:     schema,
	}

	ctx := context.Background()

	dim := s.persistedDimension(ctx)
	switch {
	case dim > 0 && cfg.Dimensions > 0 && dim != cfg.Dimensions:
		return nil, fmt.Errorf("%w: collection %s holds %d, configured %d",
			vector.ErrDimensionMismatch, name, dim, cfg.Dimensions)

	case dim == 0 && cfg.Dimensions > 0:
		dim = cfg.Dimensions
		if err := s.persistDimension(ctx, dim); err != nil {
			return nil, err
		}
	}

	s.dim = dim

	return s, nil
}

var errNoEmbedding = errors.New("record has no precomputed embedding")

func noEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedding
}

type chromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	schema     *chromem.Collection

	dim int
	sync.Mutex
}

// persistedDimension reads the dimension fixed by an earlier session, or 0.
func (s *chromemStore) persistedDimension(ctx context.Context) int {
	doc, err := s.schema.GetByID(ctx, schemaDimensionID)
	if err != nil {
		return 0
	}

	return len(doc.Embedding)
}

func (s *chromemStore) persistDimension(ctx context.Context, dim int) error {
	marker := make([]float32, dim)
	marker[0] = 1

	return s.schema.AddDocument(ctx, chromem.Document{
		ID:        schemaDimensionID,
		Content:   schemaDimensionID,
		Embedding: marker,
	})
}

func (s *chromemStore) dimension() int {
	s.Lock()
	defer s.Unlock()

	return s.dim
}

// add stores one record. While no dimension is fixed, adds are serialized
// and the first stored record fixes it.
func (s *chromemStore) add(ctx context.Context, r vector.Record) error {
	if dim := s.dimension(); dim > 0 {
		if err := vector.Check(r, dim); err != nil {
			return err
		}

		return s.addDocument(ctx, r)
	}

	s.Lock()
	defer s.Unlock()

	if err := vector.Check(r, s.dim); err != nil {
		return err
	}

	if err := s.addDocument(ctx, r); err != nil {
		return err
	}

	if s.dim > 0 {
		return nil
	}

	if err := s.persistDimension(ctx, len(r.Embedding)); err != nil {
		s.collection.Delete(ctx, nil, nil, r.ID)
		return err
	}

	s.dim = len(r.Embedding)
	return nil
}

func (s *chromemStore) addDocument(ctx context.Context, r vector.Record) error {
	original, err := json.Marshal(r.Embedding)
	if err != nil {
		return err
	}

	metadata := make(map[string]string, len(r.Metadata)+1)
	maps.Copy(metadata, r.Metadata)
	metadata[metadataEmbedding] = string(original)

	return s.collection.AddDocument(ctx, chromem.Document{
		ID:        r.ID,
		Metadata:  metadata,
		Embedding: r.Embedding,
		Content:   r.Content,
	})
}

func (s *chromemStore) Ingest(ctx context.Context, records []vector.Record) error {
	var errs []error
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.ID == "" {
			r.ID = uuid.NewString()
		}

		if err := s.add(ctx, r); err != nil {
			errs = append(errs, &vector.IngestionError{Record: r, Err: err})
		}
	}

	return errors.Join(errs...)
}

func (s *chromemStore) Query(ctx context.Context, embedding []float32, topK int) ([]vector.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", vector.ErrRetrieval, topK)
	}

	n := s.collection.Count()
	if n == 0 {
		return []vector.Result{}, nil
	}

	if dim := s.dimension(); dim > 0 && len(embedding) != dim {
		return nil, fmt.Errorf("%w: %w: expected %d, got %d",
			vector.ErrRetrieval, vector.ErrDimensionMismatch, dim, len(embedding))
	}

	// the whole collection is scored so that ties can be broken by ID
	// instead of by chromem's internal order
	docs, err := s.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
	}

	results := make([]vector.Result, len(docs))
	for i, doc := range docs {
		record, err := toRecord(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
		}

		results[i] = vector.Result{
			Record: record,
			Score:  float64(doc.Similarity),
		}
	}

	return vector.Rank(results, topK), nil
}

func toRecord(doc chromem.Result) (vector.Record, error) {
	metadata := maps.Clone(doc.Metadata)
	if metadata == nil {
		metadata = make(map[string]string)
	}

	embedding := doc.Embedding
	if original, ok := metadata[metadataEmbedding]; ok {
		embedding = nil
		if err := json.Unmarshal([]byte(original), &embedding); err != nil {
			return vector.Record{}, fmt.Errorf("decode embedding of %s: %w", doc.ID, err)
		}

		delete(metadata, metadataEmbedding)
	}

	return vector.Record{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: embedding,
		Metadata:  metadata,
	}, nil
}

func (s *chromemStore) Close() error {
	return nil
}
