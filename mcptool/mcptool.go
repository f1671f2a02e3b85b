// Package mcptool exposes read-only pipeline lookups as MCP tools so
// agent clients can search the innovation corpus and inspect pipeline
// state without going through the HTTP API.
//
// Tools:
//
//	innoscan_search: embed a query and return the closest documents
//	innoscan_status: document row, ingest status and recent events
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"innoscan/docstore"
	"innoscan/observability"
	"innoscan/vecstore"
)

// Embedder embeds the search query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectors recalls documents by embedding similarity.
type Vectors interface {
	Search(ctx context.Context, embedding []float32, limit int, threshold float64, excludeID string) ([]vecstore.Match, error)
}

// Documents is the document-store surface the tools need.
type Documents interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
}

// Events reads recent pipeline events.
type Events interface {
	RecentFor(ctx context.Context, documentID string, limit int) ([]observability.PipelineEvent, error)
}

// Config wires the tool set.
type Config struct {
	Embedder  Embedder
	Vectors   Vectors
	Documents Documents

	// Events is optional; nil omits events from status responses.
	Events Events

	// Threshold is the minimum similarity for search hits. Default 0.5.
	Threshold float64

	// Limit caps search results. Default 10.
	Limit int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.Limit == 0 {
		c.Limit = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NewServer builds an MCP server with the innoscan tools registered.
func NewServer(cfg Config) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "innoscan", Version: "1.0.0"}, nil)
	RegisterMCP(srv, cfg)
	return srv
}

// RegisterMCP registers the innoscan tools on an MCP server.
func RegisterMCP(srv *mcp.Server, cfg Config) {
	cfg.defaults()
	registerSearchTool(srv, cfg)
	registerStatusTool(srv, cfg)
}

// Serve runs the server over stdio until ctx is cancelled.
func Serve(ctx context.Context, srv *mcp.Server) error {
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// endpoint handles one decoded tool call.
type endpoint func(ctx context.Context, req any) (any, error)

// registerTool bridges a typed endpoint onto the MCP tool surface. Tool
// failures are reported in-band as tool errors, not protocol errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := ep(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- search ---

type searchReq struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

type searchHit struct {
	DocumentID  string  `json:"document_id"`
	Title       string  `json:"title"`
	Owner       string  `json:"owner"`
	Similarity  float64 `json:"similarity"`
	StorageLink string  `json:"storage_link,omitempty"`
}

func registerSearchTool(srv *mcp.Server, cfg Config) {
	tool := &mcp.Tool{
		Name:        "innoscan_search",
		Description: "Search the innovation corpus by semantic similarity to a query.",
		InputSchema: inputSchema(map[string]any{
			"query":     map[string]any{"type": "string", "description": "Text to search for"},
			"limit":     map[string]any{"type": "integer", "description": "Max results"},
			"threshold": map[string]any{"type": "number", "description": "Minimum cosine similarity"},
		}, []string{"query"}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		if r.Query == "" {
			return nil, errors.New("query is required")
		}
		limit := r.Limit
		if limit <= 0 {
			limit = cfg.Limit
		}
		threshold := r.Threshold
		if threshold <= 0 {
			threshold = cfg.Threshold
		}

		embedding, err := cfg.Embedder.Embed(ctx, r.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		matches, err := cfg.Vectors.Search(ctx, embedding, limit, threshold, "")
		if err != nil {
			if errors.Is(err, vecstore.ErrNoMatches) {
				return map[string]any{"hits": []searchHit{}, "count": 0}, nil
			}
			return nil, err
		}

		hits := make([]searchHit, 0, len(matches))
		for _, m := range matches {
			hit := searchHit{DocumentID: m.DocumentID, Similarity: m.Similarity}
			if doc, err := cfg.Documents.Get(ctx, m.DocumentID); err == nil {
				hit.Title = doc.Title
				hit.Owner = doc.Owner
				hit.StorageLink = doc.StorageLink
			} else {
				cfg.Logger.Warn("search hit lookup failed", "document_id", m.DocumentID, "error", err)
			}
			hits = append(hits, hit)
		}
		return map[string]any{"hits": hits, "count": len(hits)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r searchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	registerTool(srv, tool, ep, decode)
}

// --- status ---

type statusReq struct {
	DocumentID string `json:"document_id"`
	Limit      int    `json:"limit,omitempty"`
}

func registerStatusTool(srv *mcp.Server, cfg Config) {
	tool := &mcp.Tool{
		Name:        "innoscan_status",
		Description: "Look up a document's ingest status and recent pipeline events.",
		InputSchema: inputSchema(map[string]any{
			"document_id": map[string]any{"type": "string", "description": "Document id"},
			"limit":       map[string]any{"type": "integer", "description": "Max events to return"},
		}, []string{"document_id"}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*statusReq)
		if r.DocumentID == "" {
			return nil, errors.New("document_id is required")
		}
		doc, err := cfg.Documents.Get(ctx, r.DocumentID)
		if err != nil {
			return nil, err
		}

		resp := map[string]any{
			"document_id":   doc.ID,
			"title":         doc.Title,
			"owner":         doc.Owner,
			"ingest_status": doc.IngestStatus,
			"storage_link":  doc.StorageLink,
			"updated_at":    doc.UpdatedAt,
		}
		if cfg.Events != nil {
			limit := r.Limit
			if limit <= 0 {
				limit = 20
			}
			events, err := cfg.Events.RecentFor(ctx, doc.ID, limit)
			if err != nil {
				cfg.Logger.Warn("event lookup failed", "document_id", doc.ID, "error", err)
			} else {
				resp["events"] = events
			}
		}
		return resp, nil
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r statusReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	registerTool(srv, tool, ep, decode)
}
