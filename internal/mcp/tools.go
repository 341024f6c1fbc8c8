package mcp

import (
	"context"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/edgelight/edgelight/internal/cdnapi"
)

func (s *Server) registerTools() {
	// list_pull_zones — enumerate pull zones on the account.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_pull_zones",
			mcplib.WithDescription(`List all CDN pull zones on the account.

Returns each zone's ID, name, origin URL, enabled state, and attached
hostnames. Use the zone ID with get_pull_zone or get_statistics.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
		),
		s.handleListPullZones,
	)

	// get_pull_zone — fetch a single zone's full configuration.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_pull_zone",
			mcplib.WithDescription(`Get the full configuration of a single pull zone by ID.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithNumber("id",
				mcplib.Description("Pull zone ID as returned by list_pull_zones"),
				mcplib.Required(),
			),
		),
		s.handleGetPullZone,
	)

	// purge_url — invalidate one cached URL.
	s.mcpServer.AddTool(
		mcplib.NewTool("purge_url",
			mcplib.WithDescription(`Purge a single URL from the CDN cache.

The next request for the URL is fetched fresh from the origin. Purging is
immediate across all edge locations.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("url",
				mcplib.Description("Full URL to purge, e.g. https://media.b-cdn.net/logo.png"),
				mcplib.Required(),
			),
		),
		s.handlePurgeURL,
	)

	// get_statistics — traffic statistics, optionally scoped and dated.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_statistics",
			mcplib.WithDescription(`Get aggregate CDN traffic statistics.

Returns bandwidth used, requests served, and cache hit rate. Optionally
scoped to one pull zone and a date range.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithNumber("pull_zone_id",
				mcplib.Description("Optional pull zone ID to scope the report to"),
			),
			mcplib.WithString("date_from",
				mcplib.Description("Optional start date, RFC 3339 (e.g. 2026-08-01T00:00:00Z)"),
			),
			mcplib.WithString("date_to",
				mcplib.Description("Optional end date, RFC 3339"),
			),
		),
		s.handleGetStatistics,
	)
}

func (s *Server) handleListPullZones(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ins := s.pipeline.InstrumentRequest("list_pull_zones", "cdn", nil)
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	zones, toolErr := s.cdn.ListPullZones(ctx)
	if toolErr != nil {
		return errorResult(fmt.Sprintf("list pull zones failed: %v", toolErr)), nil
	}

	return jsonResult(map[string]any{
		"pull_zones": zones,
		"total":      len(zones),
	}), nil
}

func (s *Server) handleGetPullZone(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetInt("id", 0)

	ins := s.pipeline.InstrumentRequest("get_pull_zone", "cdn",
		map[string]string{"id": fmt.Sprint(id)})
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	if id <= 0 {
		toolErr = fmt.Errorf("id is required")
		return errorResult("id is required"), nil
	}

	zone, toolErr := s.cdn.GetPullZone(ctx, int64(id))
	if toolErr != nil {
		return errorResult(fmt.Sprintf("get pull zone failed: %v", toolErr)), nil
	}

	return jsonResult(zone), nil
}

func (s *Server) handlePurgeURL(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target := request.GetString("url", "")

	ins := s.pipeline.InstrumentRequest("purge_url", "cdn",
		map[string]string{"url": target})
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	if target == "" {
		toolErr = fmt.Errorf("url is required")
		return errorResult("url is required"), nil
	}

	if toolErr = s.cdn.PurgeURL(ctx, target); toolErr != nil {
		return errorResult(fmt.Sprintf("purge failed: %v", toolErr)), nil
	}

	return jsonResult(map[string]any{
		"url":    target,
		"status": "purged",
	}), nil
}

func (s *Server) handleGetStatistics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ins := s.pipeline.InstrumentRequest("get_statistics", "cdn", nil)
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	opts := &cdnapi.StatisticsOptions{
		PullZoneID: int64(request.GetInt("pull_zone_id", 0)),
	}
	if from := request.GetString("date_from", ""); from != "" {
		t, parseErr := time.Parse(time.RFC3339, from)
		if parseErr != nil {
			toolErr = fmt.Errorf("invalid date_from: %w", parseErr)
			return errorResult(toolErr.Error()), nil
		}
		opts.From = t
	}
	if to := request.GetString("date_to", ""); to != "" {
		t, parseErr := time.Parse(time.RFC3339, to)
		if parseErr != nil {
			toolErr = fmt.Errorf("invalid date_to: %w", parseErr)
			return errorResult(toolErr.Error()), nil
		}
		opts.To = t
	}

	stats, toolErr := s.cdn.GetStatistics(ctx, opts)
	if toolErr != nil {
		return errorResult(fmt.Sprintf("get statistics failed: %v", toolErr)), nil
	}

	return jsonResult(stats), nil
}
