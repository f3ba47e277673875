package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/docqa"

	mcpE "github.com/flarexio/docqa/mcp"
)

func AddRouters(r *gin.Engine, endpoints docqa.EndpointSet) {
	api := r.Group("/api")
	{
		api.POST("/ask", AskHandler(endpoints.Ask))
		api.GET("/search", SearchHandler(endpoints.Search))
		api.POST("/ingest", IngestHandler(endpoints.Ingest))
	}
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	mcp := r.Group("/mcp")
	{
		mcp.POST("", MCPStreamableHandler(endpoints))
	}
}
