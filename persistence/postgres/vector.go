// Package postgres stores records in a pgvector table, one row per chunk.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/flarexio/docqa/vector"
)

const DefaultTable = "documents"

func NewPostgresStore(ctx context.Context, cfg vector.Config) (vector.Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := NewStore(db, cfg)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func NewStore(db *sql.DB, cfg vector.Config) *Store {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	return &Store{
		db:    db,
		table: pq.QuoteIdentifier(table),
		dim:   cfg.Dimensions,
	}
}

type Store struct {
	db    *sql.DB
	table string

	dim int
	sync.Mutex
}

// EnsureSchema creates the pgvector extension and the records table, then
// adopts the dimension of vectors the table already holds.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}

	column := "vector"
	if s.dim > 0 {
		column = fmt.Sprintf("vector(%d)", s.dim)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id uuid PRIMARY KEY,
  content text NOT NULL,
  metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
  embedding %s NOT NULL
)`, s.table, column))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	dim, err := s.storedDimension(ctx)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if dim > 0 && s.dim > 0 && dim != s.dim {
		return fmt.Errorf("%w: table %s holds %d, configured %d",
			vector.ErrDimensionMismatch, s.table, dim, s.dim)
	}

	if dim > 0 {
		s.dim = dim
	}

	return nil
}

// storedDimension reads the declared size of the embedding column, falling
// back to the length of a stored vector for an unsized column. It returns 0
// for an unsized, empty table.
func (s *Store) storedDimension(ctx context.Context) (int, error) {
	var typmod int
	err := s.db.QueryRowContext(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = $1::regclass AND attname = 'embedding'`, s.table).Scan(&typmod)
	if err != nil {
		return 0, fmt.Errorf("read embedding column: %w", err)
	}

	if typmod > 0 {
		return typmod, nil
	}

	var dim int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT vector_dims(embedding) FROM %s LIMIT 1`, s.table)).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("read stored dimension: %w", err)
	}

	return dim, nil
}

func (s *Store) dimension() int {
	s.Lock()
	defer s.Unlock()

	return s.dim
}

func (s *Store) Ingest(ctx context.Context, records []vector.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, content, metadata, embedding)
VALUES ($1,$2,$3,$4::vector)`, s.table)

	var errs []error
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.ID == "" {
			r.ID = uuid.NewString()
		}

		if err := s.insert(ctx, query, r); err != nil {
			errs = append(errs, &vector.IngestionError{Record: r, Err: err})
		}
	}

	return errors.Join(errs...)
}

// insert stores one record. While no dimension is fixed, inserts are
// serialized and the first stored record fixes it.
func (s *Store) insert(ctx context.Context, query string, r vector.Record) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("invalid record id: %w", err)
	}

	if dim := s.dimension(); dim > 0 {
		if err := vector.Check(r, dim); err != nil {
			return err
		}

		return s.exec(ctx, query, r)
	}

	s.Lock()
	defer s.Unlock()

	if err := vector.Check(r, s.dim); err != nil {
		return err
	}

	if err := s.exec(ctx, query, r); err != nil {
		return err
	}

	if s.dim == 0 {
		s.dim = len(r.Embedding)
	}

	return nil
}

func (s *Store) exec(ctx context.Context, query string, r vector.Record) error {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query, r.ID, r.Content, metaBytes, pgvector.NewVector(r.Embedding))
	return err
}

func (s *Store) Query(ctx context.Context, embedding []float32, topK int) ([]vector.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", vector.ErrRetrieval, topK)
	}

	if dim := s.dimension(); dim > 0 && len(embedding) != dim {
		return nil, fmt.Errorf("%w: %w: expected %d, got %d",
			vector.ErrRetrieval, vector.ErrDimensionMismatch, dim, len(embedding))
	}

	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, vector.ErrEmptyEmbedding)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, content, metadata, embedding, 1 - (embedding <=> $1::vector) AS score
FROM %s
ORDER BY embedding <=> $1::vector, id
LIMIT $2
`, s.table), pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
	}
	defer rows.Close()

	results := make([]vector.Result, 0, topK)
	for rows.Next() {
		var (
			res       vector.Result
			metaBytes []byte
			vec       pgvector.Vector
		)

		if err := rows.Scan(&res.ID, &res.Content, &metaBytes, &vec, &res.Score); err != nil {
			return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
		}

		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &res.Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode metadata: %w", vector.ErrRetrieval, err)
			}
		}

		res.Embedding = vec.Slice()

		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrRetrieval, err)
	}

	return results, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
