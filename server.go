package main

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/gamma-omg/guidesite/search"
	"github.com/gamma-omg/guidesite/serviceworker"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type guideQuerier interface {
	Query(ctx context.Context, q search.QueryMessage) (search.ResultMessage, error)
}

type assetPrecacher interface {
	Precache(ctx context.Context, req serviceworker.PrecacheRequest) serviceworker.PrecacheDone
}

func NewGuideServer(querier guideQuerier, precacher assetPrecacher) *server.MCPServer {
	var requests atomic.Int64

	searchTool := mcp.NewTool("search_guides",
		mcp.WithDescription("Fuzzy search over games, guides and topics of the guide site"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("games", mcp.Description("Maximum number of games to return (0-50, default 6)")),
		mcp.WithNumber("guides", mcp.Description("Maximum number of guides to return (0-50, default 6)")),
		mcp.WithNumber("topics", mcp.Description("Maximum number of topics to return (0-50, default 6)")),
	)

	precacheTool := mcp.NewTool("precache_assets",
		mcp.WithDescription("Store site pages and assets in the offline cache"),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Same-origin paths or URLs to cache"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)

	srv := server.NewMCPServer("guidesite", "0.1.0", server.WithToolCapabilities(false))
	srv.AddTool(searchTool, searchGuidesHandler(querier, &requests))
	srv.AddTool(precacheTool, precacheAssetsHandler(precacher, &requests))

	return srv
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(raw)), nil
}

func searchGuidesHandler(querier guideQuerier, requests *atomic.Int64) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := querier.Query(ctx, search.QueryMessage{
			RequestID: requests.Add(1),
			Query:     q,
			Limits: search.Limits{
				Games:  search.ClampLimit(request.GetInt("games", search.DefaultLimit)),
				Guides: search.ClampLimit(request.GetInt("guides", search.DefaultLimit)),
				Topics: search.ClampLimit(request.GetInt("topics", search.DefaultLimit)),
			},
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(res)
	}
}

func precacheAssetsHandler(precacher assetPrecacher, requests *atomic.Int64) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items, _ := request.GetArguments()["urls"].([]any)

		var urls []string
		for _, it := range items {
			if s, ok := it.(string); ok {
				urls = append(urls, s)
			}
		}

		done := precacher.Precache(ctx, serviceworker.PrecacheRequest{
			RequestID: requests.Add(1),
			URLs:      urls,
		})

		return jsonResult(done)
	}
}
