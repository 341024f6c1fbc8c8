package eventbus

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := New(slog.New(slog.DiscardHandler))

	var got []any
	bus.Subscribe(TopicDebugEvent, func(p any) { got = append(got, p) })
	bus.Subscribe(TopicDebugEvent, func(p any) { got = append(got, p) })

	bus.Publish(TopicDebugEvent, "hello")

	assert.Equal(t, []any{"hello", "hello"}, got)
}

func TestBus_TopicsAreIndependent(t *testing.T) {
	bus := New(slog.New(slog.DiscardHandler))

	calls := 0
	bus.Subscribe(TopicAlertTriggered, func(p any) { calls++ })

	bus.Publish(TopicExportSuccess, 42)
	assert.Zero(t, calls, "handler on a different topic must not fire")

	bus.Publish(TopicAlertTriggered, 42)
	assert.Equal(t, 1, calls)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := New(slog.New(slog.DiscardHandler))

	delivered := false
	bus.Subscribe(TopicExportError, func(p any) { panic("bad handler") })
	bus.Subscribe(TopicExportError, func(p any) { delivered = true })

	bus.Publish(TopicExportError, nil)

	assert.True(t, delivered, "panic in one handler must not block the next")
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	bus := New(slog.New(slog.DiscardHandler))
	bus.Publish(TopicMetricRecorded, nil) // Must not panic.
}
