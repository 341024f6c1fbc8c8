package metrics

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return New(cfg, eventbus.New(logger), sched.NewFakeClock(time.Unix(1_700_000_000, 0)), logger)
}

func TestRecord_HistoryBounded(t *testing.T) {
	r := newTestRegistry(t, Config{MaxHistory: 5})

	for i := 0; i < 50; i++ {
		r.Record("queue_depth", float64(i), nil)
	}

	samples := r.Samples("queue_depth")
	require.Len(t, samples, 5, "retained samples must never exceed MaxHistory")
	assert.Equal(t, 45.0, samples[0].Value, "oldest samples are evicted first")
	assert.Equal(t, 49.0, samples[4].Value)
}

func TestIncrementCounter_Accumulates(t *testing.T) {
	r := newTestRegistry(t, Config{})

	r.IncrementCounter("hits", 1, map[string]string{"zone": "a"})
	r.IncrementCounter("hits", 2, map[string]string{"zone": "a"})
	r.IncrementCounter("hits", 3, map[string]string{"zone": "a"})

	v, ok := r.LatestValue("hits", map[string]string{"zone": "a"})
	require.True(t, ok)
	assert.Equal(t, 6.0, v, "latest value equals the sum of all prior deltas")
}

func TestIncrementCounter_LabelSetsAreIndependent(t *testing.T) {
	r := newTestRegistry(t, Config{})

	r.IncrementCounter("hits", 5, map[string]string{"zone": "a"})
	r.IncrementCounter("hits", 7, map[string]string{"zone": "b"})
	r.IncrementCounter("hits", 5, map[string]string{"zone": "a"})

	a, ok := r.LatestValue("hits", map[string]string{"zone": "a"})
	require.True(t, ok)
	b, ok := r.LatestValue("hits", map[string]string{"zone": "b"})
	require.True(t, ok)
	assert.Equal(t, 10.0, a)
	assert.Equal(t, 7.0, b)
}

func TestSetGauge_NoAccumulation(t *testing.T) {
	r := newTestRegistry(t, Config{})

	r.SetGauge("temp", 40, nil)
	r.SetGauge("temp", 20, nil)

	v, ok := r.LatestValue("temp", nil)
	require.True(t, ok)
	assert.Equal(t, 20.0, v)
}

func TestRecordHistogram_MaintainsCountAndSum(t *testing.T) {
	r := newTestRegistry(t, Config{})
	labels := map[string]string{"op": "purge"}

	r.RecordHistogram("latency", 0.25, labels)
	r.RecordHistogram("latency", 0.75, labels)

	count, ok := r.LatestValue("latency_count", labels)
	require.True(t, ok)
	sum, ok := r.LatestValue("latency_sum", labels)
	require.True(t, ok)
	assert.Equal(t, 2.0, count, "_count increments by 1 per observation")
	assert.Equal(t, 1.0, sum, "_sum accumulates the observed values")

	// The raw observation carries the _type=histogram tag.
	raw := r.Samples("latency")
	require.Len(t, raw, 2)
	assert.Equal(t, "histogram", raw[0].Labels["_type"])
}

func TestRecordHistogram_DoesNotMutateCallerLabels(t *testing.T) {
	r := newTestRegistry(t, Config{})
	labels := map[string]string{"op": "purge"}

	r.RecordHistogram("latency", 1, labels)

	assert.NotContains(t, labels, "_type")
}

func TestExportPrometheus_CounterSamples(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.Register(Definition{Name: "requests_total", Kind: KindCounter, Help: "Total requests.", Labels: []string{"method"}})

	for i := 0; i < 3; i++ {
		r.IncrementCounter("requests_total", 1, map[string]string{"method": "GET"})
	}
	r.IncrementCounter("requests_total", 1, map[string]string{"method": "POST"})

	out := r.ExportPrometheus()
	assert.Contains(t, out, "# HELP requests_total Total requests.\n")
	assert.Contains(t, out, "# TYPE requests_total counter\n")
	assert.Contains(t, out, `requests_total{method="GET"} 3 `)
	assert.Contains(t, out, `requests_total{method="POST"} 1 `)
}

func TestExportPrometheus_SkipsUndefinedMetrics(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.Record("orphan_metric", 1, nil)

	assert.Empty(t, r.ExportPrometheus())
}

func TestExportPrometheus_SanitizesNames(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.Register(Definition{Name: "edge.cache-ratio", Kind: KindGauge, Help: "hit ratio"})
	r.SetGauge("edge.cache-ratio", 0.9, map[string]string{"pull-zone": "img"})

	out := r.ExportPrometheus()
	assert.Contains(t, out, "# TYPE edge_cache_ratio gauge\n")
	assert.Contains(t, out, `edge_cache_ratio{pull_zone="img"} 0.9 `)
}

func TestExportPrometheus_EscapesLabelValues(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.Register(Definition{Name: "m", Kind: KindGauge, Help: "h"})
	r.SetGauge("m", 1, map[string]string{"path": `a"b\c`})

	assert.Contains(t, r.ExportPrometheus(), `m{path="a\"b\\c"} 1 `)
}

func TestExportCustom_Shape(t *testing.T) {
	r := newTestRegistry(t, Config{Source: "edgelight", Version: "1.2.3", PushInterval: time.Minute})
	r.Register(Definition{Name: "hits", Kind: KindCounter, Help: "h"})
	r.IncrementCounter("hits", 1, map[string]string{"zone": "a"})

	body, err := r.ExportCustom()
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `"source":"edgelight"`)
	assert.Contains(t, s, `"version":"1.2.3"`)
	assert.Contains(t, s, `"interval":"1m0s"`)
	assert.Contains(t, s, `"name":"hits"`)
	assert.Contains(t, s, `"type":"counter"`)
	assert.Contains(t, s, `"tags":{"zone":"a"}`)
}

func TestExportOpenTelemetry_Shape(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.Register(Definition{Name: "hits", Kind: KindCounter, Help: "cache hits"})
	r.IncrementCounter("hits", 1, map[string]string{"zone": "a"})

	body, err := r.ExportOpenTelemetry()
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, `"name":"hits"`)
	assert.Contains(t, s, `"description":"cache hits"`)
	assert.Contains(t, s, `"dataPoints":[{"value":1,"attributes":{"zone":"a"},"timeUnixNano":`)
}

func TestJSONExports_CarryUndefinedMetricsAsUntyped(t *testing.T) {
	r := newTestRegistry(t, Config{})
	r.Record("orphan_metric", 7, map[string]string{"zone": "a"})

	body, err := r.ExportCustom()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"name":"orphan_metric"`)
	assert.Contains(t, string(body), `"type":"untyped"`)

	body, err = r.ExportOpenTelemetry()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"name":"orphan_metric"`)
	assert.Contains(t, string(body), `"type":"untyped"`)

	assert.Empty(t, r.ExportPrometheus(), "exposition has no TYPE line to emit")
}

type funcCollector struct {
	name string
	fn   func(ctx context.Context, r *Registry) error
}

func (c funcCollector) Name() string                                   { return c.name }
func (c funcCollector) Collect(ctx context.Context, r *Registry) error { return c.fn(ctx, r) }

func TestCollect_IsolatesFailingCollector(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	bus := eventbus.New(logger)
	r := New(Config{}, bus, sched.NewFakeClock(time.Unix(0, 0)), logger)

	var errEvents []CollectorError
	bus.Subscribe(eventbus.TopicCollectorError, func(p any) {
		errEvents = append(errEvents, p.(CollectorError))
	})

	ran := false
	r.AddCollector(funcCollector{"boom", func(ctx context.Context, r *Registry) error {
		panic("collector exploded")
	}})
	r.AddCollector(funcCollector{"fail", func(ctx context.Context, r *Registry) error {
		return errors.New("no data")
	}})
	r.AddCollector(funcCollector{"ok", func(ctx context.Context, r *Registry) error {
		ran = true
		return nil
	}})

	r.Collect(context.Background())

	assert.True(t, ran, "collectors after a failure must still run")
	require.Len(t, errEvents, 2)
	assert.Equal(t, "boom", errEvents[0].Collector)
	assert.Equal(t, "fail", errEvents[1].Collector)
}
