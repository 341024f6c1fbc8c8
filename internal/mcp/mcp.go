// Package mcp implements the Model Context Protocol server for edgelight.
//
// The MCP server exposes the upstream CDN management API as tools, plus
// observability tools and resources backed by the in-process pipeline.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/edgelight/edgelight/internal/cdnapi"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/obs"
)

// CDNClient is the slice of the upstream API client the tool handlers use.
type CDNClient interface {
	ListPullZones(ctx context.Context) ([]cdnapi.PullZone, error)
	GetPullZone(ctx context.Context, id int64) (*cdnapi.PullZone, error)
	PurgeURL(ctx context.Context, target string) error
	GetStatistics(ctx context.Context, opts *cdnapi.StatisticsOptions) (*cdnapi.Statistics, error)
}

// Server wraps the MCP server with the CDN client and observability pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	cdn       CDNClient
	pipeline  *obs.Facade
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(version string, cdn CDNClient, pipeline *obs.Facade, logger *slog.Logger) *Server {
	s := &Server{
		cdn:      cdn,
		pipeline: pipeline,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"edgelight",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerObservabilityTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// edgelight://health/report — full health report with recommendations.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"edgelight://health/report",
			"Health Report",
			mcplib.WithResourceDescription("Health checks, diagnostics, active alerts, and recommendations"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleHealthResource,
	)

	// edgelight://metrics/prometheus — current metric values in text exposition format.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"edgelight://metrics/prometheus",
			"Metrics",
			mcplib.WithResourceDescription("Current metric values in Prometheus text exposition format"),
			mcplib.WithMIMEType("text/plain"),
		),
		s.handleMetricsResource,
	)

	// edgelight://events/recent — recent debug events.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"edgelight://events/recent",
			"Recent Events",
			mcplib.WithResourceDescription("Recent debug events across all categories"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleEventsResource,
	)
}

func (s *Server) handleHealthResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	report := s.pipeline.GenerateHealthReport(ctx)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal health report: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "edgelight://health/report",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleMetricsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := s.pipeline.Metrics().Encode(metrics.FormatPrometheus)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode metrics: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "edgelight://metrics/prometheus",
			MIMEType: "text/plain",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleEventsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	events := s.pipeline.Recorder().RecentEvents(50)

	data, err := json.MarshalIndent(map[string]any{
		"events": events,
		"total":  len(events),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal events: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "edgelight://events/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
