package docqa

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/flarexio/docqa/embedding"
	"github.com/flarexio/docqa/llm"
	"github.com/flarexio/docqa/loader"
	"github.com/flarexio/docqa/vector"
)

// Service defines the core logic of docqa.
type Service interface {

	// Close releases the vector store.
	Close() error

	// Ask answers a question from the retrieved context.
	Ask(ctx context.Context, question string) (*Answer, error)

	// Search returns the k chunks nearest to the query.
	Search(ctx context.Context, query string, k int) ([]vector.Result, error)

	// Ingest chunks, embeds and stores the documents.
	Ingest(ctx context.Context, docs []loader.Document) (*IngestReport, error)
}

type ServiceMiddleware func(Service) Service

func NewService(cfg Config, embedder embedding.Embedder, store vector.Store, generator llm.Client) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("service", "docqa"),
	)

	return &service{
		embedder:  embedder,
		store:     store,
		generator: generator,
		cfg:       cfg,
		log:       log,
	}, nil
}

type service struct {
	embedder  embedding.Embedder
	store     vector.Store
	generator llm.Client

	cfg Config
	log *zap.Logger
}

func (svc *service) Close() error {
	return svc.store.Close()
}

func (svc *service) Ask(ctx context.Context, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	log := svc.log.With(
		zap.String("action", "ask"),
	)

	// EMBEDDING_QUERY
	query, err := svc.embed(ctx, question)
	if err != nil {
		return nil, &QueryError{StateEmbeddingQuery, err}
	}

	// RETRIEVING
	var fallback bool
	results, err := svc.store.Query(ctx, query, svc.cfg.Query.TopK)
	if err != nil {
		if !svc.cfg.Query.FallbackOnRetrievalError {
			return nil, &QueryError{StateRetrieving, err}
		}

		log.Warn("retrieval failed, answering without context", zap.Error(err))

		results = []vector.Result{}
		fallback = true
	}

	// COMPOSING_PROMPT
	turns := svc.compose(question, results)

	// GENERATING
	params := llm.Params{
		Model:       svc.cfg.Generation.Model,
		MaxTokens:   svc.cfg.Generation.MaxTokens,
		Temperature: svc.cfg.Generation.Temperature,
	}

	text, err := svc.generator.Generate(ctx, svc.messages(turns), params)
	if err != nil {
		return nil, &QueryError{StateGenerating, err}
	}

	// DONE
	return &Answer{
		Question: question,
		Text:     text,
		Turns:    turns,
		Results:  results,
		Fallback: fallback,
	}, nil
}

func (svc *service) Search(ctx context.Context, query string, k int) ([]vector.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuestion
	}

	if k <= 0 {
		k = svc.cfg.Query.TopK
	}

	vec, err := svc.embed(ctx, query)
	if err != nil {
		return nil, &QueryError{StateEmbeddingQuery, err}
	}

	results, err := svc.store.Query(ctx, vec, k)
	if err != nil {
		return nil, &QueryError{StateRetrieving, err}
	}

	return results, nil
}

func (svc *service) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := svc.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if err := embedding.Validate([]string{text}, vectors); err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (svc *service) compose(question string, results []vector.Result) []Turn {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Content
	}

	return []Turn{
		{Role: RoleSystem, Content: svc.cfg.Query.Persona},
		{Role: RoleUser, Content: question},
		{Role: RoleContext, Content: strings.Join(texts, "\n")},
	}
}

func (svc *service) messages(turns []Turn) []llm.Message {
	messages := make([]llm.Message, len(turns))
	for i, turn := range turns {
		role := string(turn.Role)
		if turn.Role == RoleContext {
			role = svc.cfg.Query.ContextRole
		}

		messages[i] = llm.Message{
			Role:    role,
			Content: turn.Content,
		}
	}

	return messages
}
