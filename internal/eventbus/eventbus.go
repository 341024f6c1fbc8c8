// Package eventbus provides the in-process publish/subscribe channel that
// wires the observability components together. Components subscribe to named
// topics at composition time; publishers never know who is listening.
package eventbus

import (
	"log/slog"
	"sync"
)

// Topic names published by the observability components.
const (
	TopicMetricRecorded = "metricRecorded"
	TopicDebugEvent     = "debugEvent"
	TopicAlertTriggered = "alertTriggered"
	TopicExportSuccess  = "exportSuccess"
	TopicExportError    = "exportError"
	TopicCollectorError = "collectorError"
	TopicPushResult     = "pushResult"
)

// Handler receives the payload published on a topic.
type Handler func(payload any)

// Bus dispatches published payloads to all handlers subscribed to the topic.
// Dispatch is synchronous and panic-isolated: a misbehaving handler is logged
// and skipped, and never prevents delivery to the remaining handlers.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for the topic. Intended to be called during
// composition, before any Publish on the topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers payload to every handler subscribed to topic.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(topic, h, payload)
	}
}

func (b *Bus) dispatch(topic string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(payload)
}
