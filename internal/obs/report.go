package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgelight/edgelight/internal/export"
	"github.com/edgelight/edgelight/internal/health"
	"github.com/edgelight/edgelight/internal/metrics"
	"github.com/edgelight/edgelight/internal/tracing"
)

// HealthReport is the assembled operational view of the process.
type HealthReport struct {
	Service         string           `json:"service"`
	Version         string           `json:"version"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Health          health.Overview  `json:"health"`
	Diagnostics     *health.Snapshot `json:"diagnostics,omitempty"`
	ActiveAlerts    []health.Alert   `json:"active_alerts"`
	ExportStats     export.Stats     `json:"export_stats"`
	OpenSpans       int              `json:"open_spans"`
	Recommendations []string         `json:"recommendations"`
}

// GenerateHealthReport assembles current stats, diagnostics, unacknowledged
// alerts, and threshold-derived recommendations into one payload.
func (f *Facade) GenerateHealthReport(ctx context.Context) *HealthReport {
	snap := f.health.LatestSnapshot()
	if snap == nil {
		snap = f.health.CollectDiagnostics(ctx)
	}
	overview := f.health.HealthStatus()

	unacked := false
	report := &HealthReport{
		Service:      f.cfg.ServiceName,
		Version:      f.cfg.Version,
		GeneratedAt:  f.clock.Now(),
		Health:       overview,
		Diagnostics:  snap,
		ActiveAlerts: f.health.GetAlerts(health.AlertFilter{Acknowledged: &unacked}),
		ExportStats:  f.exporter.GetStats(),
		OpenSpans:    f.recorder.OpenSpanCount(),
	}
	report.Recommendations = f.recommendations(snap, overview)
	return report
}

// recommendations derives short human-readable suggestions from threshold
// checks on memory, scheduler lag, and critical health results.
func (f *Facade) recommendations(snap *health.Snapshot, overview health.Overview) []string {
	recs := []string{}

	if snap != nil && snap.HeapInuseBytes >= f.cfg.Health.MemoryWarnBytes && f.cfg.Health.MemoryWarnBytes > 0 {
		recs = append(recs, fmt.Sprintf(
			"heap in use is %d MiB; consider lowering retention bounds or investigating leaks",
			snap.HeapInuseBytes>>20))
	}
	if lag, ok := overview.Checks[health.CheckSchedulerLag]; ok && lag.Status != health.StatusHealthy {
		recs = append(recs, "scheduler lag is elevated; look for blocking calls on hot paths")
	}

	criticals := 0
	for _, r := range overview.Checks {
		if r.Status == health.StatusCritical {
			criticals++
		}
	}
	if criticals > 0 {
		recs = append(recs, fmt.Sprintf("%d health check(s) are critical; run a connectivity test on upstream dependencies", criticals))
	}
	if len(recs) == 0 {
		recs = append(recs, "all systems nominal")
	}
	return recs
}

// observabilityExport is the JSON payload of ExportObservabilityData.
type observabilityExport struct {
	Report       *HealthReport        `json:"report"`
	Metrics      json.RawMessage      `json:"metrics"`
	RecentEvents []tracing.DebugEvent `json:"recent_events"`
	RecentTraces []*tracing.Trace     `json:"recent_traces"`
}

// ExportObservabilityData renders the full observability state in the given
// wire format. The Prometheus and OTel formats carry metrics only; the JSON
// format adds the health report and recent events/traces.
func (f *Facade) ExportObservabilityData(ctx context.Context, format string) ([]byte, error) {
	switch format {
	case metrics.FormatPrometheus, metrics.FormatOTel:
		return f.metrics.Encode(format)
	case metrics.FormatJSON:
		body, err := f.metrics.ExportCustom()
		if err != nil {
			return nil, err
		}
		return json.Marshal(observabilityExport{
			Report:       f.GenerateHealthReport(ctx),
			Metrics:      body,
			RecentEvents: f.recorder.RecentEvents(100),
			RecentTraces: f.recorder.RecentTraces(20),
		})
	default:
		return nil, fmt.Errorf("obs: unknown export format %q", format)
	}
}
