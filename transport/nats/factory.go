package nats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/docqa"
	"github.com/flarexio/docqa/vector"
)

// Generation and ingestion take far longer than nats.DefaultTimeout.
const (
	AskTimeout    = 2 * time.Minute
	IngestTimeout = 10 * time.Minute
)

func MakeEndpoints(nc *nats.Conn, prefix string) *docqa.EndpointSet {
	return &docqa.EndpointSet{
		Ask:    AskEndpoint(nc, prefix+".ask"),
		Search: SearchEndpoint(nc, prefix+".search"),
		Ingest: IngestEndpoint(nc, prefix+".ingest"),
	}
}

func doRequest(ctx context.Context, nc *nats.Conn, topic string, req any, timeout time.Duration) (*nats.Msg, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, err
	}

	if err := Error(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func AskEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(docqa.AskRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		msg, err := doRequest(ctx, nc, topic, &req, AskTimeout)
		if err != nil {
			return nil, err
		}

		var answer *docqa.Answer
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			return nil, err
		}

		return answer, nil
	}
}

func SearchEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(docqa.SearchRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		msg, err := doRequest(ctx, nc, topic, &req, nats.DefaultTimeout)
		if err != nil {
			return nil, err
		}

		var results []vector.Result
		if err := json.Unmarshal(msg.Data, &results); err != nil {
			return nil, err
		}

		return results, nil
	}
}

func IngestEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(docqa.IngestRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}

		msg, err := doRequest(ctx, nc, topic, &req, IngestTimeout)
		if err != nil {
			return nil, err
		}

		var report *docqa.IngestReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			return nil, err
		}

		return report, nil
	}
}

func Error(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	return errors.New(code + ":" + description)
}
