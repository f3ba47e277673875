package docqa

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/flarexio/docqa/loader"
	"github.com/flarexio/docqa/vector"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "docqa"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Ask(ctx context.Context, question string) (*Answer, error) {
	log := mw.log.With(
		zap.String("action", "ask"),
		zap.String("question", question),
	)

	answer, err := mw.next.Ask(ctx, question)
	if err != nil {
		var queryErr *QueryError
		if errors.As(err, &queryErr) {
			log = log.With(
				zap.String("state", string(queryErr.State)),
			)
		}

		log.Error(err.Error())
		return nil, err
	}

	log.Info("question answered",
		zap.Int("results", len(answer.Results)),
		zap.Bool("fallback", answer.Fallback),
	)

	return answer, nil
}

func (mw *loggingMiddleware) Search(ctx context.Context, query string, k int) ([]vector.Result, error) {
	log := mw.log.With(
		zap.String("action", "search"),
		zap.String("query", query),
	)

	if k > 0 {
		log = log.With(
			zap.Int("k", k),
		)
	}

	results, err := mw.next.Search(ctx, query, k)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("chunks searched", zap.Int("count", len(results)))
	return results, nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context, docs []loader.Document) (*IngestReport, error) {
	log := mw.log.With(
		zap.String("action", "ingest"),
		zap.Int("documents", len(docs)),
	)

	report, err := mw.next.Ingest(ctx, docs)
	if err != nil {
		log.Error(err.Error())
		return report, err
	}

	log.Info("documents ingested",
		zap.Int("chunks", report.Chunks),
		zap.Int("stored", report.Stored),
		zap.Int("embedding_failures", report.EmbeddingFailures),
		zap.Int("ingestion_errors", len(report.Errors)),
	)

	return report, nil
}
