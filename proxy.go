package docqa

import (
	"context"
	"errors"

	"github.com/flarexio/docqa/loader"
	"github.com/flarexio/docqa/vector"
)

func ProxyMiddleware(endpoints *EndpointSet) ServiceMiddleware {
	return func(next Service) Service {
		return &proxyMiddleware{
			endpoints: endpoints,
		}
	}
}

type proxyMiddleware struct {
	endpoints *EndpointSet
}

func (mw *proxyMiddleware) Close() error {
	return nil
}

func (mw *proxyMiddleware) Ask(ctx context.Context, question string) (*Answer, error) {
	resp, err := mw.endpoints.Ask(ctx, AskRequest{question})
	if err != nil {
		return nil, err
	}

	answer, ok := resp.(*Answer)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return answer, nil
}

func (mw *proxyMiddleware) Search(ctx context.Context, query string, k int) ([]vector.Result, error) {
	req := SearchRequest{
		Query: query,
		K:     k,
	}

	resp, err := mw.endpoints.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	results, ok := resp.([]vector.Result)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return results, nil
}

func (mw *proxyMiddleware) Ingest(ctx context.Context, docs []loader.Document) (*IngestReport, error) {
	resp, err := mw.endpoints.Ingest(ctx, IngestRequest{docs})
	if err != nil {
		return nil, err
	}

	report, ok := resp.(*IngestReport)
	if !ok {
		return nil, errors.New("invalid response type")
	}

	return report, nil
}
