package tracing

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

func TestLogEvent_BufferBoundedMostRecentFirst(t *testing.T) {
	r, clock := newTestRecorder(t, Config{MaxEvents: 3})

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		r.LogEvent(LevelInfo, "request", "msg", map[string]any{"n": i}, "mcp", "", "")
	}

	events := r.RecentEvents(10)
	require.Len(t, events, 3, "event buffer must stay within MaxEvents")
	assert.Equal(t, 4, events[0].Context["n"], "most recent event comes first")
	assert.Equal(t, 2, events[2].Context["n"])
}

func TestLogEvent_PublishedOnBus(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	bus := eventbus.New(logger)
	r := New(Config{}, bus, sched.NewFakeClock(time.Unix(0, 0)), logger)

	var got []DebugEvent
	bus.Subscribe(eventbus.TopicDebugEvent, func(p any) {
		got = append(got, p.(DebugEvent))
	})

	r.LogEvent(LevelError, "export", "delivery failed", nil, "exporter", "t1", "s1")

	require.Len(t, got, 1)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Equal(t, "t1", got[0].TraceID)
	assert.Equal(t, "s1", got[0].SpanID)
}

func TestStream_FilterByLevelAndCategory(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	id, ch := r.AddStream("sse", "dashboard", StreamFilter{
		Levels:     []Level{LevelError},
		Categories: []string{"export"},
	})
	defer r.CloseStream(id)

	r.LogEvent(LevelInfo, "export", "fine", nil, "", "", "")
	r.LogEvent(LevelError, "request", "wrong category", nil, "", "", "")
	r.LogEvent(LevelError, "export", "matches", nil, "", "", "")

	select {
	case e := <-ch:
		assert.Equal(t, "matches", e.Message)
	default:
		t.Fatal("expected one filtered event on the stream")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event: %q", e.Message)
	default:
	}
}

func TestStream_SlowSubscriberDoesNotBlock(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	id, _ := r.AddStream("sse", "slow", StreamFilter{})
	defer r.CloseStream(id)

	// Overflow the subscriber buffer; LogEvent must keep returning promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < streamBuffer*3; i++ {
			r.LogEvent(LevelInfo, "request", "spam", nil, "", "", "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LogEvent blocked on a slow subscriber")
	}
}

func TestCloseStream(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})

	id, ch := r.AddStream("webhook", "http://example.com", StreamFilter{})
	require.Equal(t, 1, r.StreamCount())

	r.CloseStream(id)
	assert.Equal(t, 0, r.StreamCount())

	_, open := <-ch
	assert.False(t, open, "closing a stream closes its channel")

	r.CloseStream("unknown") // No-op.
}
