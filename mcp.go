package dcquery

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// RegisterMCPTools registers the four read operations (data, summary,
// column_values, release_metadata) as MCP tools, so the compiler can be
// driven from an MCP client in addition to its HTTP surface (spec §6).
// Adapted from the original's RegisterMCPTools: same logged-handler wrapper,
// tool set narrowed to this system's fixed operations instead of arbitrary
// SQL/introspection.
func RegisterMCPTools(mcpServer *server.MCPServer, engine *Engine) {
	dataTool := mcp.NewTool("data",
		mcp.WithDescription("Fetch paged rows for one endpoint table, gated by filters."),
		mcp.WithString("endpoint", mcp.Required(), mcp.Description("subject or file")),
		mcp.WithString("match_all", mcp.Description("comma-separated filters, all must match")),
		mcp.WithString("match_some", mcp.Description("comma-separated filters, at least one must match")),
		mcp.WithString("add_columns", mcp.Description("comma-separated unique column names or table.* to add to the projection")),
		mcp.WithString("exclude_columns", mcp.Description("comma-separated unique column names to drop from the projection")),
		mcp.WithNumber("limit", mcp.Description("max rows to return (default 100)")),
		mcp.WithNumber("offset", mcp.Description("rows to skip (default 0)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(dataTool, engine.loggedToolHandler("data", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		endpoint, err := req.RequireString("endpoint")
		if err != nil {
			return mcp.NewToolResultError("endpoint parameter is required"), nil
		}
		spec := &RequestSpec{
			Endpoint:       endpoint,
			MatchAll:       splitCSV(req.GetString("match_all", "")),
			MatchSome:      splitCSV(req.GetString("match_some", "")),
			AddColumns:     splitCSV(req.GetString("add_columns", "")),
			ExcludeColumns: splitCSV(req.GetString("exclude_columns", "")),
		}
		filters, err := parseFilters(engine.catalog, engine.logger, spec.MatchAll, spec.MatchSome)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := int64(req.GetInt("limit", 100))
		offset := int64(req.GetInt("offset", 0))
		rows, total, sql, err := engine.Data(ctx, spec, filters, limit, offset)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonToolResult(map[string]any{"rows": rows, "total_count": total, "query_sql": sql})
	}))

	summaryTool := mcp.NewTool("summary",
		mcp.WithDescription("Fetch the statistical summary for one endpoint table, gated by filters."),
		mcp.WithString("endpoint", mcp.Required(), mcp.Description("subject or file")),
		mcp.WithString("match_all", mcp.Description("comma-separated filters, all must match")),
		mcp.WithString("match_some", mcp.Description("comma-separated filters, at least one must match")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(summaryTool, engine.loggedToolHandler("summary", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		endpoint, err := req.RequireString("endpoint")
		if err != nil {
			return mcp.NewToolResultError("endpoint parameter is required"), nil
		}
		matchAll := splitCSV(req.GetString("match_all", ""))
		matchSome := splitCSV(req.GetString("match_some", ""))
		filters, err := parseFilters(engine.catalog, engine.logger, matchAll, matchSome)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		doc, _, err := engine.Summary(ctx, &RequestSpec{Endpoint: endpoint}, filters)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(doc)), nil
	}))

	columnValuesTool := mcp.NewTool("column_values",
		mcp.WithDescription("Fetch the distinct value/count distribution for one column."),
		mcp.WithString("column", mcp.Required(), mcp.Description("unique column name")),
		mcp.WithString("data_source", mcp.Description("comma-separated data sources to restrict to")),
		mcp.WithNumber("limit", mcp.Description("max values to return (unbounded if omitted)")),
		mcp.WithNumber("offset", mcp.Description("values to skip (unbounded if omitted)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(columnValuesTool, engine.loggedToolHandler("column_values", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		column, err := req.RequireString("column")
		if err != nil {
			return mcp.NewToolResultError("column parameter is required"), nil
		}
		sources := splitCSV(req.GetString("data_source", ""))
		var limit, offset *int64
		if v, err := req.RequireInt("limit"); err == nil {
			l := int64(v)
			limit = &l
		}
		if v, err := req.RequireInt("offset"); err == nil {
			o := int64(v)
			offset = &o
		}
		rows, total, sql, err := engine.ColumnValues(ctx, column, sources, limit, offset)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonToolResult(map[string]any{"values": rows, "total_count": total, "query_sql": sql})
	}))

	releaseMetadataTool := mcp.NewTool("release_metadata",
		mcp.WithDescription("Fetch the static release metadata row."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(releaseMetadataTool, engine.loggedToolHandler("release_metadata", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, err := engine.ReleaseMetadata(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(doc)), nil
	}))
}

// loggedToolHandler wraps a tool handler to log request and response
// lengths, unchanged in shape from the original.
func (e *Engine) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		e.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}

func jsonToolResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal result"), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseFilters parses the match_all/match_some filter strings into resolved
// FilterSpecs via filter.go's ParseFilter.
func parseFilters(catalog *Catalog, logger zerolog.Logger, matchAll, matchSome []string) ([]*FilterSpec, error) {
	var out []*FilterSpec
	for _, raw := range matchAll {
		f, err := ParseFilter(raw, MatchAll, catalog, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	for _, raw := range matchSome {
		f, err := ParseFilter(raw, MatchSome, catalog, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
