package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"

	"github.com/flarexio/docqa/vector"
)

const (
	id1 = "0b7c5f0e-6d1f-4c1e-9a55-2f1f9c7f0a01"
	id2 = "0b7c5f0e-6d1f-4c1e-9a55-2f1f9c7f0a02"
	id3 = "0b7c5f0e-6d1f-4c1e-9a55-2f1f9c7f0a03"
)

var insertQuery = regexp.QuoteMeta(`
INSERT INTO "documents" (id, content, metadata, embedding)
VALUES ($1,$2,$3,$4::vector)`)

var searchQuery = regexp.QuoteMeta(`
SELECT id, content, metadata, embedding, 1 - (embedding <=> $1::vector) AS score
FROM "documents"
ORDER BY embedding <=> $1::vector, id
LIMIT $2
`)

var columnQuery = regexp.QuoteMeta(`SELECT atttypmod FROM pg_attribute`)

func expectSchema(mock sqlmock.Sqlmock, table string, typmod int) {
	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS vector`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "` + table + `"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(columnQuery).
		WithArgs(`"` + table + `"`).
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(typmod))
}

func TestEnsureSchema(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{Table: "chunks", Dimensions: 1536})

	mock.ExpectExec(regexp.QuoteMeta(`CREATE EXTENSION IF NOT EXISTS vector`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "chunks"`) + `(?s).*` + regexp.QuoteMeta(`embedding vector(1536) NOT NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(columnQuery).
		WithArgs(`"chunks"`).
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(1536))

	assert.NoError(store.EnsureSchema(context.Background()))
	assert.Equal(1536, store.dimension())
	assert.NoError(mock.ExpectationsWereMet())
}

func TestEnsureSchemaAdoptsStoredDimension(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	expectSchema(mock, "documents", -1)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT vector_dims(embedding) FROM "documents" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"vector_dims"}).AddRow(3))

	if err := store.EnsureSchema(context.Background()); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(3, store.dimension())

	err = store.Ingest(context.Background(), []vector.Record{
		{ID: id1, Content: "short", Embedding: []float32{0, 1}},
	})

	errs := vector.IngestionErrors(err)
	if assert.Len(errs, 1) {
		assert.ErrorIs(errs[0], vector.ErrDimensionMismatch)
	}

	assert.NoError(mock.ExpectationsWereMet())
}

func TestEnsureSchemaEmptyUnsizedTable(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	expectSchema(mock, "documents", -1)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT vector_dims(embedding) FROM "documents" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"vector_dims"}))

	assert.NoError(store.EnsureSchema(context.Background()))
	assert.Equal(0, store.dimension())
	assert.NoError(mock.ExpectationsWereMet())
}

func TestEnsureSchemaDimensionConflict(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{Dimensions: 2})

	expectSchema(mock, "documents", 3)

	err = store.EnsureSchema(context.Background())
	assert.ErrorIs(err, vector.ErrDimensionMismatch)
	assert.NoError(mock.ExpectationsWereMet())
}

func TestIngest(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	records := []vector.Record{
		{ID: id1, Content: "the sky is blue", Embedding: []float32{0.1, 0.2}, Metadata: map[string]string{"fileName": "sky.txt"}},
		{ID: id2, Content: "poisoned", Embedding: []float32{0.3, 0.4}},
		{ID: id3, Content: "wrong dimension", Embedding: []float32{0.1, 0.2, 0.3}},
	}

	mock.ExpectExec(insertQuery).
		WithArgs(id1, "the sky is blue", []byte(`{"fileName":"sky.txt"}`), pgvector.NewVector([]float32{0.1, 0.2})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQuery).
		WithArgs(id2, "poisoned", []byte(`{}`), pgvector.NewVector([]float32{0.3, 0.4})).
		WillReturnError(errors.New("pq: value too long"))

	err = store.Ingest(context.Background(), records)

	errs := vector.IngestionErrors(err)
	if assert.Len(errs, 2) {
		assert.Equal(id2, errs[0].Record.ID)
		assert.Equal(id3, errs[1].Record.ID)
		assert.ErrorIs(errs[1], vector.ErrDimensionMismatch)
	}

	assert.NoError(mock.ExpectationsWereMet())
}

func TestIngestAssignsUUID(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	mock.ExpectExec(insertQuery).
		WithArgs(sqlmock.AnyArg(), "text", []byte(`{}`), pgvector.NewVector([]float32{1})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	records := []vector.Record{
		{Content: "text", Embedding: []float32{1}},
		{ID: "not-a-uuid", Content: "text", Embedding: []float32{1}},
	}

	err = store.Ingest(context.Background(), records)

	errs := vector.IngestionErrors(err)
	if assert.Len(errs, 1) {
		assert.Equal("not-a-uuid", errs[0].Record.ID)
	}

	assert.NoError(mock.ExpectationsWereMet())
}

func TestQuery(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{Dimensions: 2})

	rows := sqlmock.NewRows([]string{"id", "content", "metadata", "embedding", "score"}).
		AddRow(id1, "the sky is blue", []byte(`{"fileName":"sky.txt"}`), "[0.1,0.2]", 0.99).
		AddRow(id2, "water is wet", []byte(`{}`), "[0.3,0.4]", 0.42)

	mock.ExpectQuery(searchQuery).
		WithArgs(pgvector.NewVector([]float32{0.1, 0.2}), 2).
		WillReturnRows(rows)

	results, err := store.Query(context.Background(), []float32{0.1, 0.2}, 2)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Len(results, 2)
	assert.Equal(id1, results[0].ID)
	assert.Equal("sky.txt", results[0].Metadata["fileName"])
	assert.Equal([]float32{0.1, 0.2}, results[0].Embedding)
	assert.InDelta(0.99, results[0].Score, 1e-9)
	assert.NoError(mock.ExpectationsWereMet())
}

func TestQueryEmptyTable(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	mock.ExpectQuery(searchQuery).
		WithArgs(pgvector.NewVector([]float32{1, 0}), 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata", "embedding", "score"}))

	results, err := store.Query(context.Background(), []float32{1, 0}, 4)
	assert.NoError(err)
	assert.NotNil(results)
	assert.Len(results, 0)
}

func TestQueryFailure(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{Dimensions: 2})

	mock.ExpectQuery(searchQuery).
		WillReturnError(errors.New("connection refused"))

	_, err = store.Query(context.Background(), []float32{1, 0}, 4)
	assert.ErrorIs(err, vector.ErrRetrieval)

	_, err = store.Query(context.Background(), []float32{1, 0, 0}, 4)
	assert.ErrorIs(err, vector.ErrDimensionMismatch)
}

func TestIngestFailureDoesNotFixDimension(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	mock.ExpectExec(insertQuery).
		WithArgs(id1, "rejected", []byte(`{}`), pgvector.NewVector([]float32{1, 0})).
		WillReturnError(errors.New("pq: connection reset"))
	mock.ExpectExec(insertQuery).
		WithArgs(id2, "stored", []byte(`{}`), pgvector.NewVector([]float32{1, 0, 0})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Ingest(context.Background(), []vector.Record{
		{ID: id1, Content: "rejected", Embedding: []float32{1, 0}},
		{ID: id2, Content: "stored", Embedding: []float32{1, 0, 0}},
	})

	errs := vector.IngestionErrors(err)
	if assert.Len(errs, 1) {
		assert.Equal(id1, errs[0].Record.ID)
		assert.NotErrorIs(errs[0], vector.ErrDimensionMismatch)
	}

	assert.Equal(3, store.dimension())
	assert.NoError(mock.ExpectationsWereMet())
}

func TestQueryReturnsStoredEmbedding(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer db.Close()

	store := NewStore(db, vector.Config{})

	mock.ExpectExec(insertQuery).
		WithArgs(id1, "three four", []byte(`{}`), pgvector.NewVector([]float32{3, 4, 0})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := sqlmock.NewRows([]string{"id", "content", "metadata", "embedding", "score"}).
		AddRow(id1, "three four", []byte(`{}`), "[3,4,0]", 1.0)

	mock.ExpectQuery(searchQuery).
		WithArgs(pgvector.NewVector([]float32{3, 4, 0}), 1).
		WillReturnRows(rows)

	records := []vector.Record{
		{ID: id1, Content: "three four", Embedding: []float32{3, 4, 0}},
	}

	if err := store.Ingest(context.Background(), records); err != nil {
		assert.Fail(err.Error())
		return
	}

	results, err := store.Query(context.Background(), []float32{3, 4, 0}, 1)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	if assert.Len(results, 1) {
		assert.Equal([]float32{3, 4, 0}, results[0].Embedding)
	}

	assert.NoError(mock.ExpectationsWereMet())
}
