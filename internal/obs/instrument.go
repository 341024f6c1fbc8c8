package obs

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/edgelight/edgelight/internal/tracing"
)

// Instrument measures one unit of work opened by InstrumentRequest or
// InstrumentAPICall. Finish must be called exactly once on every exit path;
// pair it with defer so panics still close the span.
type Instrument struct {
	TraceID string
	SpanID  string

	f          *Facade
	counter    string // terminal counter name
	histogram  string
	labels     map[string]string // method/subject or service/endpoint
	start      time.Time
	source     string
	finished   atomic.Bool
	otelSpan   oteltrace.Span
	otelFinish func(err error)
}

// InstrumentRequest opens a trace and span for one inbound request (a tool
// invocation), records the started counter, and returns the instrument whose
// Finish closes everything out.
func (f *Facade) InstrumentRequest(method, subject string, metadata map[string]string) *Instrument {
	p := f.cfg.MetricPrefix
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["method"] = method
	meta["subject"] = subject

	return f.instrument(
		method,
		p+"_requests_total",
		p+"_request_duration_seconds",
		map[string]string{"method": method, "subject": subject},
		"request",
		meta,
	)
}

// InstrumentAPICall opens a trace and span for one outbound upstream API
// call. The subject identifies the tenant-like scope of the call.
func (f *Facade) InstrumentAPICall(service, endpoint, subject string) *Instrument {
	p := f.cfg.MetricPrefix
	return f.instrument(
		service+"."+endpoint,
		p+"_api_requests_total",
		p+"_api_request_duration_seconds",
		map[string]string{"service": service, "endpoint": endpoint},
		"api",
		map[string]string{"service": service, "endpoint": endpoint, "subject": subject},
	)
}

func (f *Facade) instrument(spanName, counter, histogram string, labels map[string]string, source string, metadata map[string]string) *Instrument {
	traceID := f.recorder.StartTrace("", metadata)
	spanID := f.recorder.StartSpan(traceID, spanName, "", labels)

	started := maps.Clone(labels)
	started["status"] = "started"
	f.metrics.IncrementCounter(counter, 1, started)

	ins := &Instrument{
		TraceID:   traceID,
		SpanID:    spanID,
		f:         f,
		counter:   counter,
		histogram: histogram,
		labels:    labels,
		start:     f.clock.Now(),
		source:    source,
	}

	if f.otelTracer != nil {
		attrs := make([]attribute.KeyValue, 0, len(labels))
		for k, v := range labels {
			attrs = append(attrs, attribute.String(k, v))
		}
		_, span := f.otelTracer.Start(context.Background(), spanName,
			oteltrace.WithAttributes(attrs...))
		ins.otelSpan = span
		ins.otelFinish = func(err error) {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
	return ins
}

// Finish closes the span, records the duration histogram and the terminal
// status counter, and logs a correlated completion event. Calling Finish
// more than once is a warn-logged no-op.
func (ins *Instrument) Finish(err error, response map[string]string) {
	if !ins.finished.CompareAndSwap(false, true) {
		ins.f.logger.Warn("obs: instrument finished twice",
			"trace_id", ins.TraceID, "span_id", ins.SpanID)
		return
	}

	duration := ins.f.clock.Now().Sub(ins.start)
	ins.f.recorder.FinishSpan(ins.TraceID, ins.SpanID, err, response)

	status := "success"
	level := tracing.LevelInfo
	message := "request completed"
	if err != nil {
		status = "error"
		level = tracing.LevelError
		message = "request failed"
	}

	terminal := maps.Clone(ins.labels)
	terminal["status"] = status
	ins.f.metrics.IncrementCounter(ins.counter, 1, terminal)
	ins.f.metrics.RecordHistogram(ins.histogram, duration.Seconds(), ins.labels)

	evCtx := map[string]any{
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}
	for k, v := range ins.labels {
		evCtx[k] = v
	}
	if err != nil {
		evCtx["error"] = err.Error()
	}
	ins.f.recorder.LogEvent(level, ins.source, message, evCtx, ins.source, ins.TraceID, ins.SpanID)

	if ins.otelFinish != nil {
		ins.otelFinish(err)
	}
}
