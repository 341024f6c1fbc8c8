// Package metrics implements the in-process metric registry: labeled time
// series with bounded history, multi-format encoding, pluggable collectors,
// and timed pushes to external targets.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/edgelight/edgelight/internal/deliver"
	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

// Kind is a metric type.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
)

// defaultMaxHistory bounds the retained samples per metric name.
const defaultMaxHistory = 1000

// Definition describes a metric's metadata. Definitions are registered once
// and live for the process's lifetime.
type Definition struct {
	Name   string
	Kind   Kind
	Help   string
	Labels []string
}

// Sample is one recorded value of a metric.
type Sample struct {
	Value     float64
	Timestamp time.Time
	Labels    map[string]string
}

// Recorded is the payload published on eventbus.TopicMetricRecorded.
type Recorded struct {
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// Collector is a pluggable source of metrics invoked on every collection
// cycle. A failing or panicking collector never aborts the cycle.
type Collector interface {
	Name() string
	Collect(ctx context.Context, r *Registry) error
}

// Config holds registry settings.
type Config struct {
	// MaxHistory bounds retained samples per metric name. Defaults to 1000.
	MaxHistory int

	// PushInterval is the period of the background push loop. Zero disables it.
	PushInterval time.Duration

	// Source and Version annotate the custom JSON export metadata.
	Source  string
	Version string

	// SendTimeout applies to each outbound push request.
	SendTimeout time.Duration
}

// Registry records metrics as labeled time series. All methods are safe for
// concurrent use; recording operations are O(1)-ish and never block on I/O.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	bus    *eventbus.Bus
	clock  sched.Clock
	sender *deliver.HTTPSender

	mu         sync.RWMutex
	defs       map[string]Definition
	samples    map[string][]Sample
	collectors []Collector
	targets    map[string]PushTarget

	pushTask *sched.Task
}

// New creates a registry. Call Start to begin the background push loop.
func New(cfg Config, bus *eventbus.Bus, clock sched.Clock, logger *slog.Logger) *Registry {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	r := &Registry{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		clock:   clock,
		sender:  deliver.NewHTTPSender(cfg.SendTimeout),
		defs:    make(map[string]Definition),
		samples: make(map[string][]Sample),
		targets: make(map[string]PushTarget),
	}
	r.pushTask = sched.NewTask("metrics-push", cfg.PushInterval, clock, logger, func(ctx context.Context) {
		r.Push(ctx)
	})
	return r
}

// Start launches the periodic push loop. No-op if PushInterval is zero.
func (r *Registry) Start(ctx context.Context) {
	r.pushTask.Start(ctx)
}

// Stop cancels the push loop. Idempotent.
func (r *Registry) Stop() {
	r.pushTask.Stop()
}

// Register upserts a metric definition. Registering a histogram also
// registers the derived <name>_count and <name>_sum counter series so they
// appear in the exposition output.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	r.defs[def.Name] = def
	if def.Kind == KindHistogram {
		r.defs[def.Name+"_count"] = Definition{
			Name: def.Name + "_count",
			Kind: KindCounter,
			Help: "Observation count for " + def.Name,
		}
		r.defs[def.Name+"_sum"] = Definition{
			Name: def.Name + "_sum",
			Kind: KindCounter,
			Help: "Observation sum for " + def.Name,
		}
	}
	r.mu.Unlock()
}

// Record appends a sample for name, evicting the oldest sample once the
// per-name history exceeds the configured maximum.
func (r *Registry) Record(name string, value float64, labels map[string]string) {
	now := r.clock.Now()
	r.mu.Lock()
	r.recordLocked(name, value, labels, now)
	r.mu.Unlock()

	r.bus.Publish(eventbus.TopicMetricRecorded, Recorded{
		Name:      name,
		Value:     value,
		Labels:    labels,
		Timestamp: now,
	})
}

// recordLocked appends a sample. Caller must hold r.mu.
func (r *Registry) recordLocked(name string, value float64, labels map[string]string, now time.Time) {
	s := Sample{Value: value, Timestamp: now, Labels: maps.Clone(labels)}
	series := append(r.samples[name], s)
	if len(series) > r.cfg.MaxHistory {
		series = series[len(series)-r.cfg.MaxHistory:]
	}
	r.samples[name] = series
}

// IncrementCounter records latest+delta for the sample matching labels
// exactly, starting from zero when no prior sample matches. Monotonic under
// sequential calls with identical labels.
func (r *Registry) IncrementCounter(name string, delta float64, labels map[string]string) {
	now := r.clock.Now()
	r.mu.Lock()
	latest, _ := r.latestLocked(name, labels)
	value := latest + delta
	r.recordLocked(name, value, labels, now)
	r.mu.Unlock()

	r.bus.Publish(eventbus.TopicMetricRecorded, Recorded{
		Name:      name,
		Value:     value,
		Labels:    labels,
		Timestamp: now,
	})
}

// SetGauge records value directly, with no accumulation.
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.Record(name, value, labels)
}

// RecordHistogram records the raw observation tagged _type=histogram and
// maintains the derived series: <name>_count is incremented by one and
// <name>_sum by value on every call.
func (r *Registry) RecordHistogram(name string, value float64, labels map[string]string) {
	tagged := maps.Clone(labels)
	if tagged == nil {
		tagged = make(map[string]string)
	}
	tagged["_type"] = "histogram"
	r.Record(name, value, tagged)
	r.IncrementCounter(name+"_count", 1, labels)
	r.IncrementCounter(name+"_sum", value, labels)
}

// LatestValue returns the value of the most recent sample for name whose
// labels match exactly.
func (r *Registry) LatestValue(name string, labels map[string]string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestLocked(name, labels)
}

// latestLocked scans the series newest-first for an exact label match.
// Caller must hold r.mu (read or write).
func (r *Registry) latestLocked(name string, labels map[string]string) (float64, bool) {
	series := r.samples[name]
	for i := len(series) - 1; i >= 0; i-- {
		if labelsEqual(series[i].Labels, labels) {
			return series[i].Value, true
		}
	}
	return 0, false
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	return maps.Equal(a, b)
}

// Samples returns a copy of the retained samples for name, oldest first.
func (r *Registry) Samples(name string) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	series := r.samples[name]
	out := make([]Sample, len(series))
	copy(out, series)
	return out
}

// Definition returns the registered definition for name.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// AddCollector registers a pluggable collector invoked on every Collect.
func (r *Registry) AddCollector(c Collector) {
	r.mu.Lock()
	r.collectors = append(r.collectors, c)
	r.mu.Unlock()
}

// Collect invokes every registered collector. A collector error or panic is
// published as a collector-error event and does not abort the remaining
// collectors.
func (r *Registry) Collect(ctx context.Context) {
	r.mu.RLock()
	collectors := make([]Collector, len(r.collectors))
	copy(collectors, r.collectors)
	r.mu.RUnlock()

	for _, c := range collectors {
		if err := r.runCollector(ctx, c); err != nil {
			r.logger.Error("metrics: collector failed", "collector", c.Name(), "error", err)
			r.bus.Publish(eventbus.TopicCollectorError, CollectorError{
				Collector: c.Name(),
				Err:       err,
			})
		}
	}
}

// CollectorError is the payload published on eventbus.TopicCollectorError.
type CollectorError struct {
	Collector string
	Err       error
}

func (r *Registry) runCollector(ctx context.Context, c Collector) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("metrics: collector %s panicked: %v", c.Name(), rec)
		}
	}()
	return c.Collect(ctx, r)
}
