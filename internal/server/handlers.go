package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/obs"
	"github.com/edgelight/edgelight/internal/tracing"
)

type handlers struct {
	pipeline *obs.Facade
	logger   *slog.Logger
	version  string
}

// handleHealth handles GET /health. Critical overall status maps to 503 so
// load balancers stop routing to the instance.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	overview := h.pipeline.Health().HealthStatus()

	status := http.StatusOK
	if overview.Overall == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":  overview.Overall,
		"version": h.version,
		"checks":  overview.Checks,
	})
}

// handleMetrics handles GET /metrics in Prometheus text exposition format.
func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	data, err := h.pipeline.Metrics().Encode(metrics.FormatPrometheus)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", metrics.ContentTypeFor(metrics.FormatPrometheus))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleReport handles GET /v1/report.
func (h *handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.GenerateHealthReport(r.Context()))
}

// handleEventStream handles GET /v1/events/stream (SSE). Query parameters
// "level" and "category" may be repeated to filter the stream.
func (h *handlers) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := tracing.StreamFilter{}
	for _, l := range r.URL.Query()["level"] {
		filter.Levels = append(filter.Levels, tracing.Level(l))
	}
	filter.Categories = r.URL.Query()["category"]

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	id, ch := h.pipeline.Recorder().AddStream("sse", r.RemoteAddr, filter)
	defer h.pipeline.Recorder().CloseStream(id)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
