// Package tracing records trace/span lifecycles and structured debug events
// in bounded in-memory buffers, with best-effort streaming to subscribers.
package tracing

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgelight/edgelight/internal/eventbus"
	"github.com/edgelight/edgelight/internal/sched"
)

// Span statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	defaultMaxTraces      = 500
	defaultMaxEvents      = 1000
	defaultTraceRetention = 30 * time.Minute
)

// Span is a timed unit of work within a trace.
type Span struct {
	ID       string            `json:"id"`
	TraceID  string            `json:"trace_id"`
	ParentID string            `json:"parent_id,omitempty"`
	Name     string            `json:"name"`
	Start    time.Time         `json:"start"`
	End      *time.Time        `json:"end,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Status   string            `json:"status,omitempty"` // ok or error; empty while open
}

// Duration returns the span duration. ok is false while the span is open.
func (s *Span) Duration() (time.Duration, bool) {
	if s.End == nil {
		return 0, false
	}
	d := s.End.Sub(s.Start)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Trace is a correlated group of spans for one logical operation.
type Trace struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Started  time.Time         `json:"started"`
	Spans    []*Span           `json:"spans"`
}

// Config holds recorder bounds.
type Config struct {
	// MaxTraces bounds the retained trace buffer. Defaults to 500.
	MaxTraces int

	// MaxEvents bounds the retained debug event buffer. Defaults to 1000.
	MaxEvents int

	// TraceRetention prunes traces older than this window regardless of
	// count. Defaults to 30 minutes.
	TraceRetention time.Duration
}

// Recorder tracks traces, spans, and debug events. All methods are safe for
// concurrent use and never block on subscribers.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	bus    *eventbus.Bus
	clock  sched.Clock

	mu      sync.RWMutex
	traces  map[string]*Trace
	order   []string // trace ids, oldest first
	events  []DebugEvent
	streams map[string]*streamConn
}

// New creates a recorder.
func New(cfg Config, bus *eventbus.Bus, clock sched.Clock, logger *slog.Logger) *Recorder {
	if cfg.MaxTraces <= 0 {
		cfg.MaxTraces = defaultMaxTraces
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.TraceRetention <= 0 {
		cfg.TraceRetention = defaultTraceRetention
	}
	return &Recorder{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		clock:   clock,
		traces:  make(map[string]*Trace),
		streams: make(map[string]*streamConn),
	}
}

// StartTrace creates a trace. An empty id is replaced with a fresh UUID.
// Returns the trace id.
func (r *Recorder) StartTrace(id string, metadata map[string]string) string {
	if id == "" {
		id = uuid.New().String()
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.traces[id]; exists {
		return id
	}
	r.traces[id] = &Trace{
		ID:       id,
		Metadata: maps.Clone(metadata),
		Started:  now,
	}
	r.order = append(r.order, id)
	r.pruneLocked(now)
	return id
}

// StartSpan opens a span under the given trace and returns its id. Starting
// a span on an unknown trace is a no-op that returns an empty id.
func (r *Recorder) StartSpan(traceID, name, parentID string, tags map[string]string) string {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.traces[traceID]
	if !ok {
		r.logger.Warn("tracing: span on unknown trace", "trace_id", traceID, "span", name)
		return ""
	}
	span := &Span{
		ID:       uuid.New().String(),
		TraceID:  traceID,
		ParentID: parentID,
		Name:     name,
		Start:    now,
		Tags:     maps.Clone(tags),
	}
	tr.Spans = append(tr.Spans, span)
	return span.ID
}

// FinishSpan closes a span, setting its end time and terminal status.
// Finishing an unknown trace or span id, or a span that is already finished,
// is a no-op logged at warn level.
func (r *Recorder) FinishSpan(traceID, spanID string, spanErr error, tags map[string]string) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.traces[traceID]
	if !ok {
		r.logger.Warn("tracing: finish on unknown trace", "trace_id", traceID, "span_id", spanID)
		return
	}
	var span *Span
	for _, s := range tr.Spans {
		if s.ID == spanID {
			span = s
			break
		}
	}
	if span == nil {
		r.logger.Warn("tracing: finish on unknown span", "trace_id", traceID, "span_id", spanID)
		return
	}
	if span.End != nil {
		r.logger.Warn("tracing: span finished twice", "trace_id", traceID, "span_id", spanID)
		return
	}

	end := now
	if end.Before(span.Start) {
		end = span.Start
	}
	span.End = &end
	if spanErr != nil {
		span.Status = StatusError
		if span.Tags == nil {
			span.Tags = make(map[string]string)
		}
		span.Tags["error"] = spanErr.Error()
	} else {
		span.Status = StatusOK
	}
	for k, v := range tags {
		if span.Tags == nil {
			span.Tags = make(map[string]string)
		}
		span.Tags[k] = v
	}
}

// GetTrace returns a copy of the trace with the given id. The copy is safe
// to read or marshal while recording continues.
func (r *Recorder) GetTrace(id string) (*Trace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.traces[id]
	if !ok {
		return nil, false
	}
	return tr.clone(), true
}

// RecentTraces returns up to n trace copies, most recent first.
func (r *Recorder) RecentTraces(n int) []*Trace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.order) {
		n = len(r.order)
	}
	out := make([]*Trace, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.traces[r.order[i]].clone())
	}
	return out
}

func (t *Trace) clone() *Trace {
	spans := make([]*Span, len(t.Spans))
	for i, s := range t.Spans {
		c := *s
		c.Tags = maps.Clone(s.Tags)
		if s.End != nil {
			end := *s.End
			c.End = &end
		}
		spans[i] = &c
	}
	return &Trace{
		ID:       t.ID,
		Metadata: maps.Clone(t.Metadata),
		Started:  t.Started,
		Spans:    spans,
	}
}

// OpenSpanCount returns the number of spans without an end time across all
// retained traces.
func (r *Recorder) OpenSpanCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open := 0
	for _, tr := range r.traces {
		for _, s := range tr.Spans {
			if s.End == nil {
				open++
			}
		}
	}
	return open
}

// pruneLocked evicts traces beyond MaxTraces (oldest first) and traces older
// than the retention window. Caller must hold r.mu.
func (r *Recorder) pruneLocked(now time.Time) {
	for len(r.order) > r.cfg.MaxTraces {
		delete(r.traces, r.order[0])
		r.order = r.order[1:]
	}
	cutoff := now.Add(-r.cfg.TraceRetention)
	for len(r.order) > 0 {
		tr := r.traces[r.order[0]]
		if tr == nil || tr.Started.Before(cutoff) {
			delete(r.traces, r.order[0])
			r.order = r.order[1:]
			continue
		}
		break
	}
}
