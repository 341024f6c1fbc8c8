package edgelight

import (
	"context"
	"time"
)

// Status is a health check grade.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Check is a custom health check registered via WithCheck.
// Execute returns the grade, a human-readable message, and optional metadata.
// A returned error or a panic grades the check critical.
type Check struct {
	Name     string
	Category string
	Execute  func(ctx context.Context) (Status, string, map[string]any, error)
}

// Auth configures authentication for outbound deliveries.
// Kind is one of "", "bearer", "basic", or "api-key".
type Auth struct {
	Kind     string
	Token    string
	Username string
	Password string
	Header   string
	Key      string
}

// PushTarget is an endpoint the metric registry pushes snapshots to.
// Format is one of "prometheus", "json", or "otel".
type PushTarget struct {
	Name   string
	URL    string
	Format string
	Auth   Auth
}

// Destination is a telemetry export destination for batch exports.
// Format is one of "prometheus", "json", or "otel".
type Destination struct {
	Name   string
	URL    string
	Format string
	Auth   Auth
}

// PullZone is the public representation of a CDN pull zone.
// It is a curated view of the internal API type for use in the CDNClient
// extension interface. No internal package imports — safe to use from
// outside the module.
type PullZone struct {
	ID                   int64
	Name                 string
	OriginURL            string
	Enabled              bool
	Hostnames            []Hostname
	CacheControlMaxAge   int64
	MonthlyBandwidthUsed int64
}

// Hostname is a hostname attached to a pull zone.
type Hostname struct {
	ID               int64
	Value            string
	ForceSSL         bool
	IsSystemHostname bool
}

// Statistics is an aggregate traffic report.
type Statistics struct {
	TotalBandwidthUsed  int64
	TotalRequestsServed int64
	CacheHitRate        float64
	BandwidthUsedChart  map[string]float64
	RequestsServedChart map[string]float64
}

// StatisticsQuery scopes a GetStatistics call. Zero values mean unscoped.
type StatisticsQuery struct {
	PullZoneID int64
	From       time.Time
	To         time.Time
}
