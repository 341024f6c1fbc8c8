// Package edgelight is the public API for embedding the edgelight MCP server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := edgelight.New(
//	    edgelight.WithVersion(version),
//	    edgelight.WithLogger(logger),
//	    edgelight.WithCheck(myOriginCheck),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: edgelight (root) imports
// internal/*, but internal/* never imports edgelight (root). Public types
// (PullZone, Check, etc.) are standalone structs with no internal imports;
// conversion helpers live here because this is the only file that sees both
// sides of the boundary.
package edgelight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/edgelight/edgelight/internal/cdnapi"
	"github.com/edgelight/edgelight/internal/config"
	"github.com/edgelight/edgelight/internal/deliver"
	"github.com/edgelight/edgelight/internal/export"
	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/mcp"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/obs"
	"github.com/edgelight/edgelight/internal/server"
	"github.com/edgelight/edgelight/internal/telemetry"
	"github.com/edgelight/edgelight/internal/tracing"
)

// App is the edgelight server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	version  string
	pipeline *obs.Facade
	mcpSrv   *mcp.Server
	srv      *server.Server // nil when serving stdio only
}

// New loads configuration, applies options, and constructs the full server:
// observability pipeline, upstream CDN client, MCP server, and (when a port
// is configured) the operational HTTP surface.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("edgelight: load config: %w", err)
	}
	if o.portSet {
		cfg.Port = o.port
	}
	if o.baseURL != "" {
		cfg.APIBaseURL = o.baseURL
	}
	if o.accessKey != "" {
		cfg.APIAccessKey = o.accessKey
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	pipeline := obs.New(obs.Config{
		ServiceName: cfg.ServiceName,
		Version:     o.version,
		Metrics: metrics.Config{
			MaxHistory:   cfg.MetricMaxHistory,
			PushInterval: cfg.PushInterval,
			Source:       cfg.ServiceName,
			Version:      o.version,
		},
		Tracing: tracing.Config{
			MaxTraces:      cfg.MaxTraces,
			MaxEvents:      cfg.MaxEvents,
			TraceRetention: cfg.TraceRetention,
		},
		Health: health.Config{
			CheckInterval:       cfg.CheckInterval,
			DiagnosticsInterval: cfg.DiagInterval,
			MaxAlerts:           cfg.File.Alerts.MaxAlerts,
			MemoryWarnBytes:     cfg.File.Alerts.MemoryWarnBytes,
			MemoryCritBytes:     cfg.File.Alerts.MemoryCritBytes,
			LagWarn:             time.Duration(cfg.File.Alerts.LagWarn),
			LagCrit:             time.Duration(cfg.File.Alerts.LagCrit),
		},
		Export: export.Config{
			Interval: cfg.ExportInterval,
		},
	}, logger)

	for _, c := range o.checks {
		pipeline.Health().RegisterCheck(toInternalCheck(c))
	}
	for _, t := range cfg.File.PushTargets {
		pipeline.Metrics().AddPushTarget(metrics.PushTarget{
			Name: t.Name, URL: t.URL, Format: t.Format, Auth: t.Auth,
		})
	}
	for _, t := range o.pushTargets {
		pipeline.Metrics().AddPushTarget(metrics.PushTarget{
			Name: t.Name, URL: t.URL, Format: t.Format, Auth: toInternalAuth(t.Auth),
		})
	}
	for _, d := range cfg.File.Destinations {
		pipeline.Exporter().AddDestination(export.Destination{
			Name: d.Name, URL: d.URL, Format: d.Format, Auth: d.Auth,
		})
	}
	for _, d := range o.destinations {
		pipeline.Exporter().AddDestination(export.Destination{
			Name: d.Name, URL: d.URL, Format: d.Format, Auth: toInternalAuth(d.Auth),
		})
	}

	var cdn mcp.CDNClient
	if o.cdnClient != nil {
		cdn = &cdnAdapter{c: o.cdnClient}
	} else {
		if cfg.APIAccessKey == "" {
			return nil, fmt.Errorf("edgelight: EDGELIGHT_API_ACCESS_KEY is required (or use WithCDNClient)")
		}
		client, err := cdnapi.NewClient(cdnapi.Config{
			BaseURL:   cfg.APIBaseURL,
			AccessKey: cfg.APIAccessKey,
			Timeout:   cfg.APITimeout,
		}, pipeline)
		if err != nil {
			return nil, fmt.Errorf("edgelight: %w", err)
		}
		cdn = client
	}

	mcpSrv := mcp.New(o.version, cdn, pipeline, logger)

	var srv *server.Server
	if cfg.Port > 0 {
		srv = server.New(server.Config{
			Pipeline:     pipeline,
			MCPServer:    mcpSrv.MCPServer(),
			Logger:       logger,
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			Version:      o.version,
		})
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		version:  o.version,
		pipeline: pipeline,
		mcpSrv:   mcpSrv,
		srv:      srv,
	}, nil
}

// Run starts telemetry, the pipeline's background loops, and the transport
// (HTTP when a port is configured, stdio otherwise). Blocks until the
// context is canceled or the transport fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	otelShutdown, err := telemetry.Init(ctx, a.cfg.OTELEndpoint, a.cfg.ServiceName, a.version, a.cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("edgelight: telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	if a.cfg.OTELEndpoint != "" {
		a.pipeline.SetOTelTracer(telemetry.Tracer("edgelight"))
		telemetry.RegisterPipelineMetrics(a.pipeline.Recorder())
	}

	a.pipeline.Start(ctx)
	defer a.pipeline.Stop()

	a.pipeline.Recorder().LogEvent(tracing.LevelInfo, "startup", "server ready",
		map[string]any{"version": a.version}, "app", "", "")

	if a.srv != nil {
		return a.runHTTP(ctx)
	}
	return a.runStdio(ctx)
}

func (a *App) runStdio(ctx context.Context) error {
	a.logger.Info("serving MCP over stdio")

	errCh := make(chan error, 1)
	go func() {
		errCh <- mcpserver.ServeStdio(a.mcpSrv.MCPServer())
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("edgelight: mcp stdio: %w", err)
		}
		return nil
	}
}

func (a *App) runHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("edgelight: http server: %w", err)
	}
}

func toInternalCheck(c Check) health.Check {
	return health.Check{
		Name:     c.Name,
		Category: c.Category,
		Execute: func(ctx context.Context) (health.Status, string, map[string]any, error) {
			status, msg, meta, err := c.Execute(ctx)
			return health.Status(status), msg, meta, err
		},
	}
}

func toInternalAuth(a Auth) deliver.AuthConfig {
	return deliver.AuthConfig{
		Kind:     a.Kind,
		Token:    a.Token,
		Username: a.Username,
		Password: a.Password,
		Header:   a.Header,
		Key:      a.Key,
	}
}

// cdnAdapter bridges a public CDNClient to the internal tool interface.
type cdnAdapter struct {
	c CDNClient
}

func (a *cdnAdapter) ListPullZones(ctx context.Context) ([]cdnapi.PullZone, error) {
	zones, err := a.c.ListPullZones(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]cdnapi.PullZone, len(zones))
	for i, z := range zones {
		out[i] = toInternalZone(z)
	}
	return out, nil
}

func (a *cdnAdapter) GetPullZone(ctx context.Context, id int64) (*cdnapi.PullZone, error) {
	zone, err := a.c.GetPullZone(ctx, id)
	if err != nil {
		return nil, err
	}
	z := toInternalZone(*zone)
	return &z, nil
}

func (a *cdnAdapter) PurgeURL(ctx context.Context, target string) error {
	return a.c.PurgeURL(ctx, target)
}

func (a *cdnAdapter) GetStatistics(ctx context.Context, opts *cdnapi.StatisticsOptions) (*cdnapi.Statistics, error) {
	var q *StatisticsQuery
	if opts != nil {
		q = &StatisticsQuery{PullZoneID: opts.PullZoneID, From: opts.From, To: opts.To}
	}
	stats, err := a.c.GetStatistics(ctx, q)
	if err != nil {
		return nil, err
	}
	return &cdnapi.Statistics{
		TotalBandwidthUsed:  stats.TotalBandwidthUsed,
		TotalRequestsServed: stats.TotalRequestsServed,
		CacheHitRate:        stats.CacheHitRate,
		BandwidthUsedChart:  stats.BandwidthUsedChart,
		RequestsServedChart: stats.RequestsServedChart,
	}, nil
}

func toInternalZone(z PullZone) cdnapi.PullZone {
	hostnames := make([]cdnapi.Hostname, len(z.Hostnames))
	for i, h := range z.Hostnames {
		hostnames[i] = cdnapi.Hostname{
			ID:               h.ID,
			Value:            h.Value,
			ForceSSL:         h.ForceSSL,
			IsSystemHostname: h.IsSystemHostname,
		}
	}
	return cdnapi.PullZone{
		ID:                   z.ID,
		Name:                 z.Name,
		OriginURL:            z.OriginURL,
		Enabled:              z.Enabled,
		Hostnames:            hostnames,
		CacheControlMaxAge:   z.CacheControlMaxAge,
		MonthlyBandwidthUsed: z.MonthlyBandwidthUsed,
	}
}
