// Package export batches observability state and delivers it to pluggable
// destinations with bounded retry.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgelight/edgelight/internal/deliver"
	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/sched"
	"github.com/edgelight/edgelight/internal/tracing"
)

// DeliverFunc ships one encoded payload to a destination. Implementations
// must honour ctx cancellation.
type DeliverFunc func(ctx context.Context, payload []byte, contentType string) error

// Destination is an external telemetry sink, keyed by unique name. When
// Deliver is nil, payloads are POSTed to URL with the configured auth.
type Destination struct {
	Name    string             `yaml:"name"`
	Format  string             `yaml:"format"` // prometheus, json, or otel
	URL     string             `yaml:"url"`
	Auth    deliver.AuthConfig `yaml:"auth"`
	Deliver DeliverFunc        `yaml:"-"`
}

// Result is the outcome of one delivery attempt sequence for a destination.
type Result struct {
	Destination string
	Success     bool
	Duration    time.Duration
	Attempts    int
	Err         error
}

// Stats are the exporter's running counters.
type Stats struct {
	Total      int64     `json:"total"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	LastExport time.Time `json:"last_export"`
}

// MetricSource, EventSource, and HealthSource are the narrow views of the
// other components the exporter reads on each batch.
type (
	MetricSource interface {
		Encode(format string) ([]byte, error)
	}
	EventSource interface {
		RecentEvents(n int) []tracing.DebugEvent
	}
	HealthSource interface {
		LatestSnapshot() *health.Snapshot
		HealthStatus() health.Overview
	}
)

// Config holds exporter settings.
type Config struct {
	// Interval is the batch export period. Zero disables the loop.
	Interval time.Duration

	// MaxRetryAttempts bounds delivery tries per destination per batch.
	// Defaults to 3.
	MaxRetryAttempts int

	// RetryBackoff is the base delay between attempts; attempt n waits
	// n*RetryBackoff. Defaults to 500ms.
	RetryBackoff time.Duration

	// EventBatchSize is how many recent debug events ride along in JSON
	// exports. Defaults to 100.
	EventBatchSize int

	// SendTimeout applies to each default HTTP delivery.
	SendTimeout time.Duration
}

// Exporter delivers batched observability state to destinations on a timer.
type Exporter struct {
	cfg     Config
	logger  *slog.Logger
	bus     *eventbus.Bus
	clock   sched.Clock
	sender  *deliver.HTTPSender
	metrics MetricSource
	events  EventSource
	health  HealthSource

	mu           sync.RWMutex
	destinations map[string]Destination

	total      atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	lastExport atomic.Int64 // unix nanos

	task *sched.Task
}

// New creates an exporter reading from the given sources.
func New(cfg Config, m MetricSource, ev EventSource, h HealthSource, bus *eventbus.Bus, clock sched.Clock, logger *slog.Logger) *Exporter {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.EventBatchSize <= 0 {
		cfg.EventBatchSize = 100
	}
	e := &Exporter{
		cfg:          cfg,
		logger:       logger,
		bus:          bus,
		clock:        clock,
		sender:       deliver.NewHTTPSender(cfg.SendTimeout),
		metrics:      m,
		events:       ev,
		health:       h,
		destinations: make(map[string]Destination),
	}
	e.task = sched.NewTask("telemetry-export", cfg.Interval, clock, logger, func(ctx context.Context) {
		e.Export(ctx)
	})
	return e
}

// Start launches the batch export loop. No-op when Interval is zero.
func (e *Exporter) Start(ctx context.Context) {
	e.task.Start(ctx)
}

// Stop cancels the loop; an in-flight batch finishes or fails naturally.
// Idempotent.
func (e *Exporter) Stop() {
	e.task.Stop()
}

// AddDestination registers or replaces a destination, keyed by name.
func (e *Exporter) AddDestination(d Destination) {
	e.mu.Lock()
	e.destinations[d.Name] = d
	e.mu.Unlock()
}

// RemoveDestination deletes the destination with the given name.
func (e *Exporter) RemoveDestination(name string) {
	e.mu.Lock()
	delete(e.destinations, name)
	e.mu.Unlock()
}

// Export runs one batch: encode current state per destination format and
// deliver with retry, concurrently across destinations. Failures are
// isolated per destination.
func (e *Exporter) Export(ctx context.Context) []Result {
	e.mu.RLock()
	dests := slices.SortedFunc(maps.Values(e.destinations), func(a, b Destination) int {
		return strings.Compare(a.Name, b.Name)
	})
	e.mu.RUnlock()
	if len(dests) == 0 {
		return nil
	}

	results := make([]Result, len(dests))
	var g errgroup.Group
	for i, d := range dests {
		g.Go(func() error {
			results[i] = e.exportOne(ctx, d, e.cfg.MaxRetryAttempts)
			return nil
		})
	}
	_ = g.Wait()

	e.lastExport.Store(e.clock.Now().UnixNano())
	for _, res := range results {
		e.publish(res)
	}
	return results
}

// TestDestination attempts a single one-shot delivery to the named
// destination, bypassing the schedule and retry policy.
func (e *Exporter) TestDestination(ctx context.Context, name string) Result {
	e.mu.RLock()
	d, ok := e.destinations[name]
	e.mu.RUnlock()
	if !ok {
		return Result{Destination: name, Err: fmt.Errorf("export: unknown destination %q", name)}
	}
	res := e.exportOne(ctx, d, 1)
	e.publish(res)
	return res
}

func (e *Exporter) exportOne(ctx context.Context, d Destination, maxAttempts int) Result {
	start := e.clock.Now()
	res := Result{Destination: d.Name}

	payload, contentType, err := e.encode(d.Format)
	if err != nil {
		res.Err = err
		res.Duration = e.clock.Now().Sub(start)
		return res
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		err = e.deliverTo(ctx, d, payload, contentType)
		if err == nil {
			res.Success = true
			break
		}
		if attempt < maxAttempts {
			e.clock.Sleep(ctx, time.Duration(attempt)*e.cfg.RetryBackoff)
		}
		if ctx.Err() != nil {
			break
		}
	}
	res.Err = err
	res.Duration = e.clock.Now().Sub(start)
	return res
}

func (e *Exporter) deliverTo(ctx context.Context, d Destination, payload []byte, contentType string) error {
	if d.Deliver != nil {
		return d.Deliver(ctx, payload, contentType)
	}
	return e.sender.Send(ctx, d.URL, contentType, payload, d.Auth)
}

// batchEnvelope is the JSON-format batch payload: current metrics plus
// recent events and the latest health view.
type batchEnvelope struct {
	Metrics     json.RawMessage      `json:"metrics"`
	Events      []tracing.DebugEvent `json:"events"`
	Health      health.Overview      `json:"health"`
	Diagnostics *health.Snapshot     `json:"diagnostics,omitempty"`
	ExportedAt  time.Time            `json:"exported_at"`
}

func (e *Exporter) encode(format string) ([]byte, string, error) {
	switch format {
	case metrics.FormatPrometheus, metrics.FormatOTel:
		body, err := e.metrics.Encode(format)
		return body, metrics.ContentTypeFor(format), err
	case metrics.FormatJSON:
		metricBody, err := e.metrics.Encode(format)
		if err != nil {
			return nil, "", err
		}
		env := batchEnvelope{
			Metrics:     metricBody,
			Events:      e.events.RecentEvents(e.cfg.EventBatchSize),
			Health:      e.health.HealthStatus(),
			Diagnostics: e.health.LatestSnapshot(),
			ExportedAt:  e.clock.Now(),
		}
		body, err := json.Marshal(env)
		return body, metrics.ContentTypeFor(format), err
	default:
		return nil, "", fmt.Errorf("export: unknown format %q", format)
	}
}

func (e *Exporter) publish(res Result) {
	e.total.Add(1)
	if res.Success {
		e.succeeded.Add(1)
		e.bus.Publish(eventbus.TopicExportSuccess, res)
		return
	}
	e.failed.Add(1)
	e.logger.Warn("export: delivery failed",
		"destination", res.Destination, "attempts", res.Attempts, "error", res.Err)
	e.bus.Publish(eventbus.TopicExportError, res)
}

// GetStats returns the running export counters.
func (e *Exporter) GetStats() Stats {
	var last time.Time
	if n := e.lastExport.Load(); n != 0 {
		last = time.Unix(0, n)
	}
	return Stats{
		Total:      e.total.Load(),
		Succeeded:  e.succeeded.Load(),
		Failed:     e.failed.Load(),
		LastExport: last,
	}
}
