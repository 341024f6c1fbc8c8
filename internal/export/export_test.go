package export

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/sched"
	"github.com/edgelight/edgelight/internal/tracing"
)

// newTestExporter wires an exporter to real metric/tracing/health components
// so encoded batches carry genuine state.
func newTestExporter(t *testing.T, cfg Config) (*Exporter, *metrics.Registry, *eventbus.Bus) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	bus := eventbus.New(logger)
	clock := sched.RealClock{}
	reg := metrics.New(metrics.Config{Source: "test"}, bus, clock, logger)
	rec := tracing.New(tracing.Config{}, bus, clock, logger)
	eng := health.New(health.Config{}, bus, clock, logger)
	return New(cfg, reg, rec, eng, bus, clock, logger), reg, bus
}

func TestExport_SuccessAndStats(t *testing.T) {
	e, reg, bus := newTestExporter(t, Config{})
	reg.Register(metrics.Definition{Name: "hits", Kind: metrics.KindCounter, Help: "h"})
	reg.IncrementCounter("hits", 1, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	e.AddDestination(Destination{Name: "collector", Format: metrics.FormatPrometheus, URL: srv.URL})

	var successes []Result
	bus.Subscribe(eventbus.TopicExportSuccess, func(p any) {
		successes = append(successes, p.(Result))
	})

	results := e.Export(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].Attempts)

	require.Len(t, successes, 1)
	stats := e.GetStats()
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.Succeeded)
	assert.EqualValues(t, 0, stats.Failed)
	assert.False(t, stats.LastExport.IsZero())
}

func TestExport_RetriesThenGivesUp(t *testing.T) {
	e, _, bus := newTestExporter(t, Config{MaxRetryAttempts: 3, RetryBackoff: time.Millisecond})

	var calls atomic.Int64
	e.AddDestination(Destination{
		Name:   "down",
		Format: metrics.FormatPrometheus,
		Deliver: func(ctx context.Context, payload []byte, contentType string) error {
			calls.Add(1)
			return errors.New("connection refused")
		},
	})

	var failures []Result
	bus.Subscribe(eventbus.TopicExportError, func(p any) {
		failures = append(failures, p.(Result))
	})

	results := e.Export(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 3, results[0].Attempts)
	assert.EqualValues(t, 3, calls.Load(), "delivery retried up to MaxRetryAttempts")

	require.Len(t, failures, 1)
	assert.EqualValues(t, 1, e.GetStats().Failed)
}

func TestExport_RetrySucceedsMidway(t *testing.T) {
	e, _, _ := newTestExporter(t, Config{MaxRetryAttempts: 5, RetryBackoff: time.Millisecond})

	var calls atomic.Int64
	e.AddDestination(Destination{
		Name:   "flaky",
		Format: metrics.FormatOTel,
		Deliver: func(ctx context.Context, payload []byte, contentType string) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})

	results := e.Export(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestExport_DestinationFailuresAreIsolated(t *testing.T) {
	e, _, _ := newTestExporter(t, Config{MaxRetryAttempts: 1})

	e.AddDestination(Destination{
		Name:   "broken",
		Format: metrics.FormatJSON,
		Deliver: func(context.Context, []byte, string) error {
			return errors.New("boom")
		},
	})
	var delivered atomic.Bool
	e.AddDestination(Destination{
		Name:   "working",
		Format: metrics.FormatJSON,
		Deliver: func(context.Context, []byte, string) error {
			delivered.Store(true)
			return nil
		},
	})

	results := e.Export(context.Background())
	require.Len(t, results, 2)
	assert.True(t, delivered.Load(), "one failing destination must not block another")
}

func TestExport_JSONEnvelopeCarriesState(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	bus := eventbus.New(logger)
	clock := sched.RealClock{}
	reg := metrics.New(metrics.Config{}, bus, clock, logger)
	rec := tracing.New(tracing.Config{}, bus, clock, logger)
	eng := health.New(health.Config{}, bus, clock, logger)
	e := New(Config{}, reg, rec, eng, bus, clock, logger)

	reg.Register(metrics.Definition{Name: "hits", Kind: metrics.KindCounter, Help: "h"})
	reg.IncrementCounter("hits", 1, nil)
	rec.LogEvent(tracing.LevelWarn, "request", "slow response", nil, "mcp", "", "")
	eng.CollectDiagnostics(context.Background())

	var got []byte
	e.AddDestination(Destination{
		Name:   "sink",
		Format: metrics.FormatJSON,
		Deliver: func(ctx context.Context, payload []byte, contentType string) error {
			got = payload
			assert.Equal(t, "application/json", contentType)
			return nil
		},
	})
	e.Export(context.Background())

	var env struct {
		Metrics     json.RawMessage      `json:"metrics"`
		Events      []tracing.DebugEvent `json:"events"`
		Diagnostics *health.Snapshot     `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(got, &env))
	assert.Contains(t, string(env.Metrics), `"name":"hits"`)
	require.NotEmpty(t, env.Events)
	assert.Equal(t, "slow response", env.Events[0].Message)
	require.NotNil(t, env.Diagnostics)
	assert.Positive(t, env.Diagnostics.Goroutines)
}

func TestTestDestination(t *testing.T) {
	e, _, _ := newTestExporter(t, Config{MaxRetryAttempts: 5})

	var calls atomic.Int64
	e.AddDestination(Destination{
		Name:   "probe",
		Format: metrics.FormatPrometheus,
		Deliver: func(context.Context, []byte, string) error {
			calls.Add(1)
			return errors.New("unreachable")
		},
	})

	res := e.TestDestination(context.Background(), "probe")
	assert.False(t, res.Success)
	assert.EqualValues(t, 1, calls.Load(), "connectivity test makes exactly one attempt")

	res = e.TestDestination(context.Background(), "missing")
	assert.ErrorContains(t, res.Err, "unknown destination")
}

func TestRemoveDestination(t *testing.T) {
	e, _, _ := newTestExporter(t, Config{})
	e.AddDestination(Destination{Name: "x", Format: metrics.FormatPrometheus,
		Deliver: func(context.Context, []byte, string) error { return nil }})
	e.RemoveDestination("x")

	assert.Nil(t, e.Export(context.Background()))
}
