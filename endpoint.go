package docqa

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/docqa/loader"
)

type EndpointSet struct {
	Ask    endpoint.Endpoint
	Search endpoint.Endpoint
	Ingest endpoint.Endpoint
}

func MakeEndpoints(svc Service) EndpointSet {
	return EndpointSet{
		Ask:    AskEndpoint(svc),
		Search: SearchEndpoint(svc),
		Ingest: IngestEndpoint(svc),
	}
}

type AskRequest struct {
	Question string `json:"question"`
}

func AskEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(AskRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Ask(ctx, req.Question)
	}
}

type SearchRequest struct {
	Query string `json:"query" form:"query"`
	K     int    `json:"k,omitempty" form:"k"`
}

func SearchEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(SearchRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Search(ctx, req.Query, req.K)
	}
}

type IngestRequest struct {
	Documents []loader.Document `json:"documents"`
}

func IngestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(IngestRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.Ingest(ctx, req.Documents)
	}
}
