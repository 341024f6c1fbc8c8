package tracing

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/edgelight/edgelight/internal/eventbus"
)

// Level is a debug event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// DebugEvent is one structured log event, optionally correlated to a trace
// and span.
type DebugEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Source    string         `json:"source,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// StreamFilter restricts which events a streaming connection receives.
// Empty slices match everything.
type StreamFilter struct {
	Levels     []Level
	Categories []string
}

func (f StreamFilter) matches(e DebugEvent) bool {
	if len(f.Levels) > 0 && !slices.Contains(f.Levels, e.Level) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, e.Category) {
		return false
	}
	return true
}

// streamBuffer is the per-connection channel depth. A connection that falls
// this far behind starts losing events rather than blocking the recorder.
const streamBuffer = 64

type streamConn struct {
	id     string
	kind   string
	target string
	filter StreamFilter
	ch     chan DebugEvent
}

// LogEvent appends an event to the bounded event buffer, publishes it on the
// bus, and broadcasts it to matching streaming connections. Delivery to
// streams is best-effort: a slow subscriber's events are dropped, never
// blocking the caller or other subscribers.
func (r *Recorder) LogEvent(level Level, category, message string, context map[string]any, source, traceID, spanID string) {
	e := DebugEvent{
		Timestamp: r.clock.Now(),
		Level:     level,
		Category:  category,
		Message:   message,
		Context:   maps.Clone(context),
		Source:    source,
		TraceID:   traceID,
		SpanID:    spanID,
	}

	r.mu.Lock()
	r.events = append(r.events, e)
	if len(r.events) > r.cfg.MaxEvents {
		r.events = r.events[len(r.events)-r.cfg.MaxEvents:]
	}
	r.mu.Unlock()

	r.bus.Publish(eventbus.TopicDebugEvent, e)

	// Broadcast under the read lock so CloseStream cannot close a channel
	// mid-send. Sends are non-blocking, so the lock is held only briefly.
	r.mu.RLock()
	for _, c := range r.streams {
		if !c.filter.matches(e) {
			continue
		}
		select {
		case c.ch <- e:
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
	r.mu.RUnlock()
}

// RecentEvents returns up to n events, most recent first.
func (r *Recorder) RecentEvents(n int) []DebugEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}
	out := make([]DebugEvent, 0, n)
	for i := len(r.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.events[i])
	}
	return out
}

// AddStream registers a push-based subscription for debug events matching
// the filter. It returns the connection id and the receive channel. The
// caller must call CloseStream when done.
func (r *Recorder) AddStream(kind, target string, filter StreamFilter) (string, <-chan DebugEvent) {
	c := &streamConn{
		id:     uuid.New().String(),
		kind:   kind,
		target: target,
		filter: filter,
		ch:     make(chan DebugEvent, streamBuffer),
	}
	r.mu.Lock()
	r.streams[c.id] = c
	r.mu.Unlock()
	return c.id, c.ch
}

// CloseStream removes a streaming connection and closes its channel.
// Closing an unknown id is a no-op.
func (r *Recorder) CloseStream(id string) {
	r.mu.Lock()
	c, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if ok {
		close(c.ch)
	}
}

// StreamCount returns the number of active streaming connections.
func (r *Recorder) StreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
