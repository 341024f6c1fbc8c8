package metrics

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Wire formats understood by push targets and export destinations.
const (
	FormatPrometheus = "prometheus"
	FormatJSON       = "json"
	FormatOTel       = "otel"
)

// ContentTypeFor returns the Content-Type header for a wire format.
func ContentTypeFor(format string) string {
	if format == FormatPrometheus {
		return "text/plain"
	}
	return "application/json"
}

// ExportPrometheus renders the Prometheus text exposition format. Only
// metrics with a registered definition are emitted; metric and label names
// are sanitized to [a-zA-Z0-9_]. Output is deterministic: metric names and
// label keys are sorted.
func (r *Registry) ExportPrometheus() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Sorted(maps.Keys(r.defs))

	var b strings.Builder
	for _, name := range names {
		def := r.defs[name]
		series := r.samples[name]
		if len(series) == 0 {
			continue
		}
		sanitized := sanitizeName(name)
		fmt.Fprintf(&b, "# HELP %s %s\n", sanitized, strings.ReplaceAll(def.Help, "\n", " "))
		fmt.Fprintf(&b, "# TYPE %s %s\n", sanitized, def.Kind)
		for _, s := range series {
			b.WriteString(sanitized)
			b.WriteString(formatLabels(s.Labels))
			b.WriteByte(' ')
			b.WriteString(formatValue(s.Value))
			b.WriteByte(' ')
			b.WriteString(strconv.FormatInt(s.Timestamp.UnixMilli(), 10))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// formatLabels renders {k="v",...} with sorted keys, or nothing when the
// label set is empty.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(labels))
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(sanitizeName(k))
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sanitizeName maps any character outside [a-zA-Z0-9_] to an underscore.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// escapeLabelValue escapes backslash, double quote, and newline per the
// exposition format rules.
func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}

// kindOrUntyped reports the registered kind for name, or "untyped" for
// metrics recorded without a definition.
func kindOrUntyped(defs map[string]Definition, name string) string {
	if def, ok := defs[name]; ok {
		return string(def.Kind)
	}
	return "untyped"
}

// OTelMetric is one metric in the OpenTelemetry-shaped export.
type OTelMetric struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Unit        string          `json:"unit,omitempty"`
	Type        string          `json:"type"`
	DataPoints  []OTelDataPoint `json:"dataPoints"`
}

// OTelDataPoint is one sample in the OpenTelemetry-shaped export.
type OTelDataPoint struct {
	Value        float64           `json:"value"`
	Attributes   map[string]string `json:"attributes"`
	TimeUnixNano int64             `json:"timeUnixNano"`
}

// ExportOpenTelemetry re-shapes the defined metrics into the
// OpenTelemetry-style JSON structure.
func (r *Registry) ExportOpenTelemetry() ([]byte, error) {
	r.mu.RLock()
	names := slices.Sorted(maps.Keys(r.samples))
	out := make([]OTelMetric, 0, len(names))
	for _, name := range names {
		series := r.samples[name]
		if len(series) == 0 {
			continue
		}
		m := OTelMetric{
			Name:        name,
			Description: r.defs[name].Help,
			Type:        kindOrUntyped(r.defs, name),
			DataPoints:  make([]OTelDataPoint, 0, len(series)),
		}
		for _, s := range series {
			attrs := s.Labels
			if attrs == nil {
				attrs = map[string]string{}
			}
			m.DataPoints = append(m.DataPoints, OTelDataPoint{
				Value:        s.Value,
				Attributes:   attrs,
				TimeUnixNano: s.Timestamp.UnixNano(),
			})
		}
		out = append(out, m)
	}
	r.mu.RUnlock()

	return json.Marshal(out)
}

// CustomMetric is one entry in the custom JSON export.
type CustomMetric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
	Type      string            `json:"type"`
}

// CustomExport is the top-level custom JSON export payload.
type CustomExport struct {
	Metrics  []CustomMetric `json:"metrics"`
	Metadata CustomMetadata `json:"metadata"`
}

// CustomMetadata annotates a custom export with its origin.
type CustomMetadata struct {
	Source   string `json:"source"`
	Version  string `json:"version"`
	Interval string `json:"interval"`
}

// ExportCustom renders the custom JSON export format.
func (r *Registry) ExportCustom() ([]byte, error) {
	r.mu.RLock()
	names := slices.Sorted(maps.Keys(r.samples))
	out := CustomExport{
		Metrics: []CustomMetric{},
		Metadata: CustomMetadata{
			Source:   r.cfg.Source,
			Version:  r.cfg.Version,
			Interval: r.cfg.PushInterval.String(),
		},
	}
	for _, name := range names {
		kind := kindOrUntyped(r.defs, name)
		for _, s := range r.samples[name] {
			tags := s.Labels
			if tags == nil {
				tags = map[string]string{}
			}
			out.Metrics = append(out.Metrics, CustomMetric{
				Name:      name,
				Value:     s.Value,
				Timestamp: s.Timestamp.UnixMilli(),
				Tags:      tags,
				Type:      kind,
			})
		}
	}
	r.mu.RUnlock()

	return json.Marshal(out)
}

// Encode renders the registry state in the given wire format.
func (r *Registry) Encode(format string) ([]byte, error) {
	switch format {
	case FormatPrometheus:
		return []byte(r.ExportPrometheus()), nil
	case FormatOTel:
		return r.ExportOpenTelemetry()
	case FormatJSON:
		return r.ExportCustom()
	default:
		return nil, fmt.Errorf("metrics: unknown export format %q", format)
	}
}
