package docqa

import (
	"context"
	"maps"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flarexio/docqa/chunker"
	"github.com/flarexio/docqa/embedding"
	"github.com/flarexio/docqa/loader"
	"github.com/flarexio/docqa/vector"
)

const (
	MetadataChunkIndex   = "chunk_index"
	MetadataChunkOffset  = "chunk_offset"
	MetadataDocumentHash = "document_hash"
)

func (svc *service) Ingest(ctx context.Context, docs []loader.Document) (*IngestReport, error) {
	log := svc.log.With(
		zap.String("action", "ingest"),
	)

	report := &IngestReport{
		Documents: len(docs),
	}

	records, err := svc.chunk(docs)
	if err != nil {
		return nil, err
	}

	report.Chunks = len(records)

	records, failures, err := svc.embedRecords(ctx, records)
	if err != nil {
		return report, err
	}

	report.EmbeddingFailures = failures

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(svc.cfg.Ingest.Concurrency)

	for start := 0; start < len(records); start += svc.cfg.Ingest.BatchSize {
		end := min(start+svc.cfg.Ingest.BatchSize, len(records))
		batch := records[start:end]

		g.Go(func() error {
			err := svc.store.Ingest(ctx, batch)

			errs := vector.IngestionErrors(err)
			if err != nil && len(errs) == 0 {
				return err
			}

			for _, e := range errs {
				log.Error(e.Error(), zap.String("record_id", e.Record.ID))
			}

			mu.Lock()
			report.Stored += len(batch) - len(errs)
			report.Errors = append(report.Errors, errs...)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

// chunk splits every document and carries its metadata onto each chunk.
func (svc *service) chunk(docs []loader.Document) ([]vector.Record, error) {
	var records []vector.Record
	for _, doc := range docs {
		chunks, err := chunker.Split(doc.Content, svc.cfg.Chunk.Size, svc.cfg.Chunk.Overlap)
		if err != nil {
			return nil, err
		}

		hash := doc.Hash()

		for i, c := range chunks {
			metadata := make(map[string]string, len(doc.Metadata)+3)
			maps.Copy(metadata, doc.Metadata)
			metadata[MetadataChunkIndex] = strconv.Itoa(i)
			metadata[MetadataChunkOffset] = strconv.Itoa(c.Offset)
			metadata[MetadataDocumentHash] = hash

			records = append(records, vector.Record{
				ID:       uuid.NewString(),
				Content:  c.Text,
				Metadata: metadata,
			})
		}
	}

	return records, nil
}

// embedRecords embeds records in batches. A failed batch is retried one
// record at a time so a single bad chunk only drops itself. Records whose
// embedding still fails are left out of the result.
func (svc *service) embedRecords(ctx context.Context, records []vector.Record) ([]vector.Record, int, error) {
	log := svc.log.With(
		zap.String("action", "embed_chunks"),
	)

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}

	var (
		embedded = make([]vector.Record, 0, len(records))
		failures int
	)

	for _, batch := range embedding.Batch(ctx, svc.embedder, texts, svc.cfg.Ingest.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, failures, err
		}

		if batch.Err == nil {
			batch.Err = embedding.Validate(batch.Texts, batch.Vectors)
		}

		if batch.Err == nil {
			for i, vec := range batch.Vectors {
				r := records[batch.Start+i]
				r.Embedding = vec
				embedded = append(embedded, r)
			}

			continue
		}

		log.Warn("batch failed, retrying chunks one by one",
			zap.Int("start", batch.Start),
			zap.Int("size", len(batch.Texts)),
			zap.Error(batch.Err),
		)

		for i, text := range batch.Texts {
			r := records[batch.Start+i]

			vec, err := svc.embed(ctx, text)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, failures, ctxErr
				}

				failures++
				log.Error("chunk skipped",
					zap.String("record_id", r.ID),
					zap.String("chunk_index", r.Metadata[MetadataChunkIndex]),
					zap.Error(err),
				)

				continue
			}

			r.Embedding = vec
			embedded = append(embedded, r)
		}
	}

	return embedded, failures, nil
}
