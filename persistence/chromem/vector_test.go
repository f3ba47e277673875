package chromem

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/docqa/vector"
)

type chromemStoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	store vector.Store
}

func (suite *chromemStoreTestSuite) SetupTest() {
	store, err := NewChromemStore(vector.Config{
		Backend:    "chromem",
		Collection: "test",
	})
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.ctx = context.Background()
	suite.store = store
}

func (suite *chromemStoreTestSuite) count() int {
	return suite.store.(*chromemStore).collection.Count()
}

func fixtures() []vector.Record {
	return []vector.Record{
		{ID: "r1", Content: "the sky is blue", Embedding: []float32{1, 0, 0}},
		{ID: "r2", Content: "grass is green", Embedding: []float32{0, 1, 0}},
		{ID: "r3", Content: "water is wet", Embedding: []float32{0, 0, 1}},
		{ID: "r4", Content: "fire is hot", Embedding: []float32{1, 1, 0}},
		{ID: "r5", Content: "ice is cold", Embedding: []float32{0, 1, 1}},
	}
}

func (suite *chromemStoreTestSuite) TestQueryNearestFirst() {
	err := suite.store.Ingest(suite.ctx, fixtures())
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	results, err := suite.store.Query(suite.ctx, []float32{0, 0, 1}, 3)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(results, 3)
	suite.Equal("r3", results[0].ID)
	suite.Equal("water is wet", results[0].Content)
	suite.InDelta(1.0, results[0].Score, 1e-5)
	suite.Equal("r5", results[1].ID)

	for i := 1; i < len(results); i++ {
		suite.GreaterOrEqual(results[i-1].Score, results[i].Score)
	}
}

func (suite *chromemStoreTestSuite) TestQueryTopKLargerThanStore() {
	err := suite.store.Ingest(suite.ctx, fixtures()[:2])
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	results, err := suite.store.Query(suite.ctx, []float32{1, 0, 0}, 4)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(results, 2)
}

func (suite *chromemStoreTestSuite) TestQueryEmptyStore() {
	results, err := suite.store.Query(suite.ctx, []float32{1, 0, 0}, 4)
	suite.NoError(err)
	suite.NotNil(results)
	suite.Len(results, 0)
}

func (suite *chromemStoreTestSuite) TestQueryDimensionMismatch() {
	err := suite.store.Ingest(suite.ctx, fixtures())
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	_, err = suite.store.Query(suite.ctx, []float32{1, 0}, 4)
	suite.ErrorIs(err, vector.ErrRetrieval)
	suite.ErrorIs(err, vector.ErrDimensionMismatch)

	_, err = suite.store.Query(suite.ctx, []float32{1, 0, 0}, 0)
	suite.ErrorIs(err, vector.ErrRetrieval)
}

func (suite *chromemStoreTestSuite) TestIngestPartialFailure() {
	records := make([]vector.Record, 10)
	for i := range records {
		records[i] = vector.Record{
			ID:        fmt.Sprintf("chunk-%d", i),
			Content:   fmt.Sprintf("chunk %d", i),
			Embedding: []float32{1, float32(i), 0},
		}
	}

	records[6].Embedding = []float32{1, float32(math.NaN()), 0}

	err := suite.store.Ingest(suite.ctx, records)

	errs := vector.IngestionErrors(err)
	suite.Len(errs, 1)
	suite.Equal("chunk-6", errs[0].Record.ID)
	suite.ErrorIs(errs[0], vector.ErrInvalidEmbedding)
	suite.Equal(9, suite.count())
}

func (suite *chromemStoreTestSuite) TestIngestFixesDimension() {
	records := []vector.Record{
		{Content: "first", Embedding: []float32{1, 0}},
		{Content: "wrong", Embedding: []float32{1, 0, 0}},
		{Content: "", Embedding: []float32{0, 1}},
		{Content: "second", Embedding: []float32{0, 1}},
	}

	err := suite.store.Ingest(suite.ctx, records)

	errs := vector.IngestionErrors(err)
	suite.Len(errs, 2)
	suite.ErrorIs(errs[0], vector.ErrDimensionMismatch)
	suite.ErrorIs(errs[1], vector.ErrEmptyContent)
	suite.NotEmpty(errs[0].Record.ID)
	suite.Equal(2, suite.count())
}

func (suite *chromemStoreTestSuite) TestIngestCancelled() {
	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()

	err := suite.store.Ingest(ctx, fixtures())
	suite.ErrorIs(err, context.Canceled)
	suite.Empty(vector.IngestionErrors(err))
}

func (suite *chromemStoreTestSuite) TestConcurrentIngest() {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()

			records := make([]vector.Record, 25)
			for i := range records {
				records[i] = vector.Record{
					Content:   fmt.Sprintf("worker %d chunk %d", g, i),
					Embedding: []float32{float32(g + 1), float32(i + 1)},
				}
			}

			suite.NoError(suite.store.Ingest(suite.ctx, records))
		}(g)
	}

	wg.Wait()

	suite.Equal(200, suite.count())
}

func (suite *chromemStoreTestSuite) TestQueryReturnsStoredEmbedding() {
	records := []vector.Record{
		{ID: "r1", Content: "three four", Embedding: []float32{3, 4, 0}, Metadata: map[string]string{"fileName": "a.txt"}},
	}

	err := suite.store.Ingest(suite.ctx, records)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	results, err := suite.store.Query(suite.ctx, []float32{3, 4, 0}, 1)
	if err != nil {
		suite.Fail(err.Error())
		return
	}

	suite.Len(results, 1)
	suite.Equal([]float32{3, 4, 0}, results[0].Embedding)
	suite.Equal(map[string]string{"fileName": "a.txt"}, results[0].Metadata)
	suite.InDelta(1.0, results[0].Score, 1e-5)
}

func TestChromemStoreTestSuite(t *testing.T) {
	suite.Run(t, new(chromemStoreTestSuite))
}

func TestQueryIgnoresInsertionOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	records := fixtures()
	records = append(records, vector.Record{
		ID: "r0", Content: "the sky is blue again", Embedding: []float32{1, 0, 0},
	})

	reversed := make([]vector.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	var ids [2][]string
	for i, input := range [][]vector.Record{records, reversed} {
		store, err := NewChromemStore(vector.Config{})
		if err != nil {
			assert.Fail(err.Error())
			return
		}

		if err := store.Ingest(ctx, input); err != nil {
			assert.Fail(err.Error())
			return
		}

		results, err := store.Query(ctx, []float32{1, 0, 0}, 3)
		if err != nil {
			assert.Fail(err.Error())
			return
		}

		for _, r := range results {
			ids[i] = append(ids[i], r.ID)
		}
	}

	assert.Equal([]string{"r0", "r1", "r4"}, ids[0])
	assert.Equal(ids[0], ids[1])
}

func TestReopenKeepsDimension(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cfg := vector.Config{
		Persistent: true,
		Path:       t.TempDir(),
		Collection: "docs",
	}

	store, err := NewChromemStore(cfg)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	err = store.Ingest(ctx, []vector.Record{
		{ID: "r1", Content: "x axis", Embedding: []float32{1, 0, 0}},
	})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	store.Close()

	reopened, err := NewChromemStore(cfg)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	err = reopened.Ingest(ctx, []vector.Record{
		{ID: "r2", Content: "short", Embedding: []float32{0, 1}},
		{ID: "r3", Content: "y axis", Embedding: []float32{0, 1, 0}},
	})

	errs := vector.IngestionErrors(err)
	if assert.Len(errs, 1) {
		assert.Equal("r2", errs[0].Record.ID)
		assert.ErrorIs(errs[0], vector.ErrDimensionMismatch)
	}

	results, err := reopened.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	if assert.Len(results, 2) {
		assert.Equal("r1", results[0].ID)
		assert.Equal([]float32{1, 0, 0}, results[0].Embedding)
	}

	_, err = reopened.Query(ctx, []float32{0, 1}, 2)
	assert.ErrorIs(err, vector.ErrDimensionMismatch)
}

func TestReopenRejectsConfiguredDimension(t *testing.T) {
	assert := assert.New(t)

	cfg := vector.Config{
		Persistent: true,
		Path:       t.TempDir(),
		Dimensions: 3,
	}

	_, err := NewChromemStore(cfg)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	cfg.Dimensions = 2

	_, err = NewChromemStore(cfg)
	assert.ErrorIs(err, vector.ErrDimensionMismatch)

	cfg.Dimensions = 0

	store, err := NewChromemStore(cfg)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(3, store.(*chromemStore).dimension())
}
