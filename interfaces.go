package edgelight

import "context"

// CDNClient is the upstream CDN API surface the MCP tools call.
// When provided via WithCDNClient, replaces the built-in HTTP client —
// useful for tests and for wrapping the upstream with caching or fakes.
type CDNClient interface {
	ListPullZones(ctx context.Context) ([]PullZone, error)
	GetPullZone(ctx context.Context, id int64) (*PullZone, error)
	PurgeURL(ctx context.Context, url string) error
	GetStatistics(ctx context.Context, q *StatisticsQuery) (*Statistics, error)
}
