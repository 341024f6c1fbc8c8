// Package obs composes the metric registry, trace recorder, health engine,
// and telemetry exporter into one facade, and exposes the instrumentation
// seam request-handling code uses.
package obs

import (
	"context"
	"log/slog"
	"sync"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/export"
	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/sched"
	"github.com/edgelight/edgelight/internal/tracing"
)

// Config aggregates the settings of all observability components.
type Config struct {
	ServiceName string
	Version     string

	// MetricPrefix prefixes the request/API instrumentation series.
	// Defaults to "edgelight".
	MetricPrefix string

	Metrics metrics.Config
	Tracing tracing.Config
	Health  health.Config
	Export  export.Config
}

// Facade owns the four observability components and their cross-wiring.
// Construct it once at bootstrap and pass it by reference into
// request-handling code; there are no hidden globals.
type Facade struct {
	cfg    Config
	logger *slog.Logger
	clock  sched.Clock
	bus    *eventbus.Bus

	metrics  *metrics.Registry
	recorder *tracing.Recorder
	health   *health.Engine
	exporter *export.Exporter

	// otelTracer optionally mirrors instrumented spans to OpenTelemetry.
	otelTracer oteltrace.Tracer

	stopOnce sync.Once
}

// New creates a facade on the real clock.
func New(cfg Config, logger *slog.Logger) *Facade {
	return NewWithClock(cfg, sched.RealClock{}, logger)
}

// NewWithClock creates a facade with an injected clock, used by tests to
// drive the periodic tasks deterministically.
func NewWithClock(cfg Config, clock sched.Clock, logger *slog.Logger) *Facade {
	if cfg.MetricPrefix == "" {
		cfg.MetricPrefix = "edgelight"
	}
	if cfg.Metrics.Source == "" {
		cfg.Metrics.Source = cfg.ServiceName
	}
	if cfg.Metrics.Version == "" {
		cfg.Metrics.Version = cfg.Version
	}

	bus := eventbus.New(logger)
	f := &Facade{
		cfg:    cfg,
		logger: logger,
		clock:  clock,
		bus:    bus,
	}
	f.metrics = metrics.New(cfg.Metrics, bus, clock, logger)
	f.recorder = tracing.New(cfg.Tracing, bus, clock, logger)
	f.health = health.New(cfg.Health, bus, clock, logger)
	f.exporter = export.New(cfg.Export, f.metrics, f.recorder, f.health, bus, clock, logger)

	f.registerInstrumentMetrics()
	f.wire()
	return f
}

// registerInstrumentMetrics declares the series the facade itself records.
func (f *Facade) registerInstrumentMetrics() {
	p := f.cfg.MetricPrefix
	f.metrics.Register(metrics.Definition{
		Name: "debug_events_total", Kind: metrics.KindCounter,
		Help:   "Debug events recorded, by level, category, and source.",
		Labels: []string{"level", "category", "source"},
	})
	f.metrics.Register(metrics.Definition{
		Name: "telemetry_exports_total", Kind: metrics.KindCounter,
		Help:   "Telemetry export attempts, by destination and status.",
		Labels: []string{"destination", "status"},
	})
	f.metrics.Register(metrics.Definition{
		Name: "telemetry_export_duration_seconds", Kind: metrics.KindHistogram,
		Help:   "Duration of successful telemetry exports.",
		Labels: []string{"destination"},
	})
	f.metrics.Register(metrics.Definition{
		Name: p + "_requests_total", Kind: metrics.KindCounter,
		Help:   "Instrumented requests, by method, subject, and status.",
		Labels: []string{"method", "subject", "status"},
	})
	f.metrics.Register(metrics.Definition{
		Name: p + "_request_duration_seconds", Kind: metrics.KindHistogram,
		Help:   "Duration of instrumented requests.",
		Labels: []string{"method", "subject"},
	})
	f.metrics.Register(metrics.Definition{
		Name: p + "_api_requests_total", Kind: metrics.KindCounter,
		Help:   "Outbound upstream API calls, by service, endpoint, and status.",
		Labels: []string{"service", "endpoint", "status"},
	})
	f.metrics.Register(metrics.Definition{
		Name: p + "_api_request_duration_seconds", Kind: metrics.KindHistogram,
		Help:   "Duration of outbound upstream API calls.",
		Labels: []string{"service", "endpoint"},
	})
}

// wire connects the components through the bus: debug events feed a counter,
// alerts feed correlated debug events, export results feed counters and a
// duration histogram.
func (f *Facade) wire() {
	f.bus.Subscribe(eventbus.TopicDebugEvent, func(p any) {
		e, ok := p.(tracing.DebugEvent)
		if !ok {
			return
		}
		f.metrics.IncrementCounter("debug_events_total", 1, map[string]string{
			"level":    string(e.Level),
			"category": e.Category,
			"source":   e.Source,
		})
	})

	f.bus.Subscribe(eventbus.TopicAlertTriggered, func(p any) {
		a, ok := p.(health.Alert)
		if !ok {
			return
		}
		level := tracing.LevelWarn
		if a.Severity == health.SeverityCritical {
			level = tracing.LevelError
		}
		f.recorder.LogEvent(level, "alert", a.Message, map[string]any{
			"rule":     a.Rule,
			"severity": string(a.Severity),
			"alert_id": a.ID,
		}, "health", "", "")
	})

	exportResult := func(p any) {
		res, ok := p.(export.Result)
		if !ok {
			return
		}
		status := "error"
		if res.Success {
			status = "success"
		}
		f.metrics.IncrementCounter("telemetry_exports_total", 1, map[string]string{
			"destination": res.Destination,
			"status":      status,
		})
		if res.Success {
			f.metrics.RecordHistogram("telemetry_export_duration_seconds",
				res.Duration.Seconds(), map[string]string{"destination": res.Destination})
		}
	}
	f.bus.Subscribe(eventbus.TopicExportSuccess, exportResult)
	f.bus.Subscribe(eventbus.TopicExportError, exportResult)
}

// SetOTelTracer enables mirroring of instrumented spans to an OpenTelemetry
// tracer. Call before Start.
func (f *Facade) SetOTelTracer(tr oteltrace.Tracer) {
	f.otelTracer = tr
}

// Start launches the four periodic tasks: metrics push, health checks,
// diagnostics collection, and telemetry export.
func (f *Facade) Start(ctx context.Context) {
	f.metrics.Start(ctx)
	f.health.Start(ctx)
	f.exporter.Start(ctx)
	f.logger.Info("obs: started",
		"service", f.cfg.ServiceName,
		"push_interval", f.cfg.Metrics.PushInterval,
		"check_interval", f.cfg.Health.CheckInterval,
		"diagnostics_interval", f.cfg.Health.DiagnosticsInterval,
		"export_interval", f.cfg.Export.Interval,
	)
}

// Stop cancels all periodic tasks exactly once; in-flight deliveries finish
// or fail naturally. Safe to call multiple times.
func (f *Facade) Stop() {
	f.stopOnce.Do(func() {
		f.metrics.Stop()
		f.health.Stop()
		f.exporter.Stop()
		f.logger.Info("obs: stopped")
	})
}

// Metrics returns the metric registry.
func (f *Facade) Metrics() *metrics.Registry { return f.metrics }

// Recorder returns the trace/debug recorder.
func (f *Facade) Recorder() *tracing.Recorder { return f.recorder }

// Health returns the health and alerting engine.
func (f *Facade) Health() *health.Engine { return f.health }

// Exporter returns the telemetry exporter.
func (f *Facade) Exporter() *export.Exporter { return f.exporter }

// Bus returns the event bus, for composition-time subscriptions.
func (f *Facade) Bus() *eventbus.Bus { return f.bus }
