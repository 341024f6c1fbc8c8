package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/tracing"
)

func (s *Server) registerObservabilityTools() {
	// get_health_report — checks, diagnostics, alerts, recommendations.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_health_report",
			mcplib.WithDescription(`Get the server's full health report.

Includes health check results, runtime diagnostics, unacknowledged
alerts, export statistics, and actionable recommendations.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleHealthReport,
	)

	// get_recent_events — recent debug events, filterable.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_recent_events",
			mcplib.WithDescription(`Get recent debug events, most recent first.

Events carry trace and span IDs so they can be correlated with traces.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("level",
				mcplib.Description("Optional minimum level filter: debug, info, warn, error"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum events to return"),
				mcplib.Min(1),
				mcplib.Max(1000),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleRecentEvents,
	)

	// get_recent_traces — recent request traces with spans.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_recent_traces",
			mcplib.WithDescription(`Get recent request traces with their spans and durations.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum traces to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleRecentTraces,
	)

	// get_alerts — alert history with filters.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_alerts",
			mcplib.WithDescription(`Get triggered alerts, most recent first.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("severity",
				mcplib.Description("Optional severity filter: info, warning, critical"),
			),
			mcplib.WithBoolean("unacknowledged_only",
				mcplib.Description("Only return alerts that have not been acknowledged"),
			),
		),
		s.handleGetAlerts,
	)

	// acknowledge_alert — mark an alert as handled.
	s.mcpServer.AddTool(
		mcplib.NewTool("acknowledge_alert",
			mcplib.WithDescription(`Acknowledge an alert so it no longer appears as active.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id",
				mcplib.Description("Alert ID as returned by get_alerts"),
				mcplib.Required(),
			),
			mcplib.WithString("acknowledged_by",
				mcplib.Description("Who is acknowledging the alert"),
			),
		),
		s.handleAcknowledgeAlert,
	)

	// export_observability — one-shot export in a chosen format.
	s.mcpServer.AddTool(
		mcplib.NewTool("export_observability",
			mcplib.WithDescription(`Export current observability data.

Formats: "prometheus" (metrics as text exposition), "otel" (metrics as
OTLP-style JSON), "json" (full snapshot with health report, metrics,
recent events, and traces).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("format",
				mcplib.Description("Export format: prometheus, json, or otel"),
				mcplib.DefaultString("json"),
			),
		),
		s.handleExportObservability,
	)

	// test_export_destination — one delivery attempt against a destination.
	s.mcpServer.AddTool(
		mcplib.NewTool("test_export_destination",
			mcplib.WithDescription(`Send one test delivery to a configured export destination.

Makes a single attempt with no retries and reports whether it succeeded.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("name",
				mcplib.Description("Destination name as configured"),
				mcplib.Required(),
			),
		),
		s.handleTestDestination,
	)
}

func (s *Server) handleHealthReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ins := s.pipeline.InstrumentRequest("get_health_report", "observability", nil)
	defer func() { ins.Finish(nil, nil) }()

	return jsonResult(s.pipeline.GenerateHealthReport(ctx)), nil
}

func (s *Server) handleRecentEvents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ins := s.pipeline.InstrumentRequest("get_recent_events", "observability", nil)
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	limit := request.GetInt("limit", 50)
	level := request.GetString("level", "")

	events := s.pipeline.Recorder().RecentEvents(limit)
	if level != "" {
		minRank, ok := levelRank(tracing.Level(level))
		if !ok {
			toolErr = fmt.Errorf("unknown level %q", level)
			return errorResult(toolErr.Error()), nil
		}
		filtered := events[:0]
		for _, ev := range events {
			if rank, _ := levelRank(ev.Level); rank >= minRank {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	return jsonResult(map[string]any{
		"events": events,
		"total":  len(events),
	}), nil
}

func (s *Server) handleRecentTraces(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ins := s.pipeline.InstrumentRequest("get_recent_traces", "observability", nil)
	defer func() { ins.Finish(nil, nil) }()

	limit := request.GetInt("limit", 20)
	traces := s.pipeline.Recorder().RecentTraces(limit)

	return jsonResult(map[string]any{
		"traces": traces,
		"total":  len(traces),
	}), nil
}

func (s *Server) handleGetAlerts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ins := s.pipeline.InstrumentRequest("get_alerts", "observability", nil)
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	filter := health.AlertFilter{}
	if sev := request.GetString("severity", ""); sev != "" {
		switch health.Severity(sev) {
		case health.SeverityInfo, health.SeverityWarning, health.SeverityCritical:
			sv := health.Severity(sev)
			filter.Severity = &sv
		default:
			toolErr = fmt.Errorf("unknown severity %q", sev)
			return errorResult(toolErr.Error()), nil
		}
	}
	if request.GetBool("unacknowledged_only", false) {
		acked := false
		filter.Acknowledged = &acked
	}

	alerts := s.pipeline.Health().GetAlerts(filter)

	return jsonResult(map[string]any{
		"alerts": alerts,
		"total":  len(alerts),
	}), nil
}

func (s *Server) handleAcknowledgeAlert(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("id", "")
	who := request.GetString("acknowledged_by", "mcp")

	ins := s.pipeline.InstrumentRequest("acknowledge_alert", "observability",
		map[string]string{"id": id})
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	if id == "" {
		toolErr = fmt.Errorf("id is required")
		return errorResult("id is required"), nil
	}

	if !s.pipeline.Health().AcknowledgeAlert(id, who) {
		toolErr = fmt.Errorf("alert %s not found", id)
		return errorResult(toolErr.Error()), nil
	}

	return jsonResult(map[string]any{
		"id":     id,
		"status": "acknowledged",
	}), nil
}

func (s *Server) handleExportObservability(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	format := request.GetString("format", "json")

	ins := s.pipeline.InstrumentRequest("export_observability", "observability",
		map[string]string{"format": format})
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	data, toolErr := s.pipeline.ExportObservabilityData(ctx, format)
	if toolErr != nil {
		return errorResult(toolErr.Error()), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleTestDestination(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")

	ins := s.pipeline.InstrumentRequest("test_export_destination", "observability",
		map[string]string{"destination": name})
	var toolErr error
	defer func() { ins.Finish(toolErr, nil) }()

	if name == "" {
		toolErr = fmt.Errorf("name is required")
		return errorResult("name is required"), nil
	}

	res := s.pipeline.Exporter().TestDestination(ctx, name)
	toolErr = res.Err

	out := map[string]any{
		"destination": name,
		"success":     res.Success,
		"attempts":    res.Attempts,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}

	return jsonResult(out), nil
}

func levelRank(l tracing.Level) (int, bool) {
	switch l {
	case tracing.LevelDebug:
		return 0, true
	case tracing.LevelInfo:
		return 1, true
	case tracing.LevelWarn:
		return 2, true
	case tracing.LevelError:
		return 3, true
	default:
		return 0, false
	}
}
