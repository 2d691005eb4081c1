package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/semdex/semdex/internal/scheduler"
	"github.com/semdex/semdex/internal/searcher"
	"github.com/semdex/semdex/internal/storage"
)

// registerTools attaches every tool handler to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(indexPathTool(), s.handleIndexPath)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
}

func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed codebase with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Ranking strategy",
					"enum":        []string{"hybrid", "semantic", "keyword"},
					"default":     "hybrid",
				},
			},
			Required: []string{"query"},
		},
	}
}

func indexPathTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_path",
		Description: "Index a file or directory immediately instead of waiting for the background scan",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path inside the indexed root; defaults to the whole root",
				},
			},
		},
	}
}

func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report index contents and background activity",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// handleSearchCode runs a query at interactive priority so it is never
// queued behind background indexing.
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments"), nil
	}
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit)), nil
	}
	mode := searcher.Mode(getStringDefault(args, "mode", string(searcher.ModeHybrid)))

	out, err := s.sched.Submit(ctx, scheduler.PriorityInteractive, func(taskCtx context.Context) (any, error) {
		return s.search.Search(taskCtx, searcher.Request{
			Query:    query,
			Limit:    limit,
			Mode:     mode,
			UseCache: true,
		})
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	resp := out.(*searcher.Response)

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":       r.Rank,
			"score":      r.Score,
			"path":       r.Unit.Path,
			"kind":       string(r.Unit.Kind),
			"name":       r.Unit.Name,
			"start_line": r.Unit.StartLine,
			"end_line":   r.Unit.EndLine,
			"body":       r.Unit.Body,
		}
	}
	return jsonResult(map[string]interface{}{
		"results":     results,
		"total":       len(results),
		"mode":        string(resp.Mode),
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	})
}

// handleIndexPath reindexes one file or subtree at maintenance
// priority, ahead of scan batches but behind interactive queries.
func (s *Server) handleIndexPath(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	path := getStringDefault(args, "path", s.root)
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path not accessible: %v", err)), nil
	}

	out, err := s.sched.Submit(ctx, scheduler.PriorityMaintenance, func(taskCtx context.Context) (any, error) {
		if info.IsDir() {
			stats, err := s.idx.IndexTree(taskCtx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"files_indexed":    stats.FilesIndexed,
				"files_up_to_date": stats.FilesUpToDate,
				"files_skipped":    stats.FilesSkipped,
				"files_failed":     stats.FilesFailed,
				"files_removed":    stats.FilesRemoved,
				"units_stored":     stats.UnitsStored,
				"duration_ms":      stats.Duration.Milliseconds(),
			}, nil
		}
		result, err := s.idx.ProcessFile(taskCtx, path, false)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"path":   result.Path,
			"status": string(result.Status),
			"units":  result.Units,
		}, nil
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	s.search.InvalidateCache()
	return jsonResult(out.(map[string]interface{}))
}

// handleGetStats reads counters at status priority.
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.sched.Submit(ctx, scheduler.PriorityStatus, func(taskCtx context.Context) (any, error) {
		return s.store.Stats(taskCtx)
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}
	stats := out.(*storage.Stats)

	scanStats := s.scan.Stats()
	schedStats := s.sched.Stats()

	return jsonResult(map[string]interface{}{
		"index": map[string]interface{}{
			"files":      stats.Files,
			"units":      stats.Units,
			"embeddings": stats.Embeddings,
			"size_bytes": stats.SizeBytes,
			"build_mode": stats.BuildMode,
			"db_path":    s.cfg.DBPath,
		},
		"scanner": map[string]interface{}{
			"running":          scanStats.Running,
			"passes_completed": scanStats.PassesCompleted,
			"files_processed":  scanStats.FilesProcessed,
			"files_updated":    scanStats.FilesUpdated,
			"files_errored":    scanStats.FilesErrored,
			"cursor_position":  scanStats.Position,
		},
		"scheduler": map[string]interface{}{
			"queued":    schedStats.Queued,
			"submitted": schedStats.Submitted,
			"completed": schedStats.Completed,
			"failed":    schedStats.Failed,
		},
		"yielded": s.guard.Yielded(),
	})
}

func jsonResult(data map[string]interface{}) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func getIntDefault(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return def
}

func getStringDefault(args map[string]interface{}, key string, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}
