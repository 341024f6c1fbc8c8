package tracing

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *sched.FakeClock) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clock := sched.NewFakeClock(time.Unix(1_700_000_000, 0))
	return New(cfg, eventbus.New(logger), clock, logger), clock
}

func TestSpanLifecycle(t *testing.T) {
	r, clock := newTestRecorder(t, Config{})

	traceID := r.StartTrace("", map[string]string{"tool": "purge_url"})
	require.NotEmpty(t, traceID)

	spanID := r.StartSpan(traceID, "purge", "", map[string]string{"zone": "img"})
	require.NotEmpty(t, spanID)

	clock.Advance(250 * time.Millisecond)
	r.FinishSpan(traceID, spanID, nil, map[string]string{"status_code": "200"})

	tr, ok := r.GetTrace(traceID)
	require.True(t, ok)
	require.Len(t, tr.Spans, 1)

	span := tr.Spans[0]
	d, done := span.Duration()
	require.True(t, done)
	assert.Equal(t, 250*time.Millisecond, d)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, StatusOK, span.Status)
	assert.Equal(t, "200", span.Tags["status_code"])
	assert.Equal(t, "img", span.Tags["zone"])
}

func TestFinishSpan_ErrorStatus(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	traceID := r.StartTrace("", nil)
	spanID := r.StartSpan(traceID, "op", "", nil)
	r.FinishSpan(traceID, spanID, errors.New("upstream 502"), nil)

	tr, _ := r.GetTrace(traceID)
	assert.Equal(t, StatusError, tr.Spans[0].Status)
	assert.Equal(t, "upstream 502", tr.Spans[0].Tags["error"])
}

func TestFinishSpan_UnknownIDsAreNoOps(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	traceID := r.StartTrace("", nil)
	spanID := r.StartSpan(traceID, "op", "", nil)

	// None of these may panic or change state.
	r.FinishSpan("no-such-trace", spanID, nil, nil)
	r.FinishSpan(traceID, "no-such-span", nil, nil)

	assert.Equal(t, 1, r.OpenSpanCount())
}

func TestFinishSpan_DoubleFinishKeepsFirstResult(t *testing.T) {
	r, clock := newTestRecorder(t, Config{})

	traceID := r.StartTrace("", nil)
	spanID := r.StartSpan(traceID, "op", "", nil)

	clock.Advance(time.Millisecond)
	r.FinishSpan(traceID, spanID, nil, nil)
	clock.Advance(time.Hour)
	r.FinishSpan(traceID, spanID, errors.New("late"), nil)

	tr, _ := r.GetTrace(traceID)
	d, done := tr.Spans[0].Duration()
	require.True(t, done)
	assert.Equal(t, time.Millisecond, d)
	assert.Equal(t, StatusOK, tr.Spans[0].Status)
}

func TestOpenSpan_DurationUnset(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	traceID := r.StartTrace("", nil)
	r.StartSpan(traceID, "op", "", nil)

	tr, _ := r.GetTrace(traceID)
	_, done := tr.Spans[0].Duration()
	assert.False(t, done, "open span must report its duration as unset")
	assert.Equal(t, 1, r.OpenSpanCount())
}

func TestStartSpan_UnknownTrace(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	assert.Empty(t, r.StartSpan("missing", "op", "", nil))
}

func TestTracePruning_ByCount(t *testing.T) {
	r, _ := newTestRecorder(t, Config{MaxTraces: 3})

	for i := 0; i < 10; i++ {
		r.StartTrace("", nil)
	}

	assert.Len(t, r.RecentTraces(0), 3)
}

func TestTracePruning_ByRetention(t *testing.T) {
	r, clock := newTestRecorder(t, Config{TraceRetention: time.Minute})

	old := r.StartTrace("", nil)
	clock.Advance(2 * time.Minute)
	fresh := r.StartTrace("", nil)

	_, ok := r.GetTrace(old)
	assert.False(t, ok, "trace older than the retention window is pruned")
	_, ok = r.GetTrace(fresh)
	assert.True(t, ok)
}

func TestRecentTraces_MostRecentFirst(t *testing.T) {
	r, clock := newTestRecorder(t, Config{})

	first := r.StartTrace("", nil)
	clock.Advance(time.Second)
	second := r.StartTrace("", nil)

	got := r.RecentTraces(2)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].ID)
	assert.Equal(t, first, got[1].ID)
}

func TestStartTrace_ExplicitIDIsIdempotent(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	id := r.StartTrace("trace-1", map[string]string{"a": "1"})
	again := r.StartTrace("trace-1", map[string]string{"b": "2"})

	assert.Equal(t, id, again)
	assert.Len(t, r.RecentTraces(0), 1)
}
