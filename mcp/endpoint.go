package mcp

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/docqa"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func ErrorResponse(id mcp.RequestId, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `docqa answers questions from an indexed document corpus.

Available tools:
- ask: answer a question using the most similar document chunks as context
- search: return the document chunks most similar to a query, without generating an answer`

const (
	ToolAsk    = "ask"
	ToolSearch = "search"
)

var tools = []mcp.Tool{
	mcp.NewTool(ToolAsk,
		mcp.WithDescription("Answer a question from the indexed documents"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
	),
	mcp.NewTool(ToolSearch,
		mcp.WithDescription("Find the document chunks most similar to a query"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The text to search for"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return"),
		),
	),
}

func Tools() []mcp.Tool {
	return slices.Clone(tools)
}

func InitializeEndpoint(svc docqa.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "docqa",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc docqa.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{}, // empty response
		}
	}
}

func ListToolsEndpoint(svc docqa.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools(),
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

// CallToolEndpoint runs the ask and search tools. Service failures are
// reported as tool errors so the client can show them to the model.
func CallToolEndpoint(svc docqa.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		callToolReq := mcp.CallToolRequest{
			Request: mcp.Request{
				Method: string(req.Method),
			},
			Params: params,
		}

		args := callToolReq.GetArguments()

		var result *mcp.CallToolResult
		switch params.Name {
		case ToolAsk:
			question, _ := args["question"].(string)
			if question == "" {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, "question is required")
			}

			answer, err := svc.Ask(ctx, question)
			if err != nil {
				result = mcp.NewToolResultError(err.Error())
				break
			}

			result = mcp.NewToolResultText(answer.Text)

		case ToolSearch:
			query, _ := args["query"].(string)
			if query == "" {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, "query is required")
			}

			var k int
			if n, ok := args["k"].(float64); ok {
				k = int(n)
			}

			results, err := svc.Search(ctx, query, k)
			if err != nil {
				result = mcp.NewToolResultError(err.Error())
				break
			}

			bs, err := json.Marshal(results)
			if err != nil {
				return ErrorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
			}

			result = mcp.NewToolResultText(string(bs))

		default:
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, "unknown tool: "+params.Name)
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}
