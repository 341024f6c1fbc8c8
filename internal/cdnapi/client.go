// Package cdnapi is an HTTP client for the upstream CDN management API.
package cdnapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgelight/edgelight/internal/obs"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the CDN API (e.g. "https://api.bunny.net").
	BaseURL string

	// AccessKey authenticates every request.
	AccessKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the CDN management API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	accessKey string
	client    *http.Client
	pipeline  *obs.Facade
}

// NewClient creates a Client from the given configuration. Every request is
// traced and counted through the observability pipeline.
func NewClient(cfg Config, pipeline *obs.Facade) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cdnapi: BaseURL is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("cdnapi: AccessKey is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("cdnapi: observability pipeline is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		client:    httpClient,
		pipeline:  pipeline,
	}, nil
}

// ListPullZones returns all pull zones on the account.
func (c *Client) ListPullZones(ctx context.Context) ([]PullZone, error) {
	var zones []PullZone
	err := c.get(ctx, "/pullzone", "list_pull_zones", &zones)
	if err != nil {
		return nil, err
	}
	return zones, nil
}

// GetPullZone returns a single pull zone by ID.
func (c *Client) GetPullZone(ctx context.Context, id int64) (*PullZone, error) {
	var zone PullZone
	err := c.get(ctx, "/pullzone/"+strconv.FormatInt(id, 10), "get_pull_zone", &zone)
	if err != nil {
		return nil, err
	}
	return &zone, nil
}

// PurgeURL invalidates a single cached URL across the CDN.
func (c *Client) PurgeURL(ctx context.Context, target string) error {
	path := "/purge?url=" + url.QueryEscape(target)
	return c.post(ctx, path, "purge_url", nil)
}

// StatisticsOptions are optional filters for GetStatistics.
type StatisticsOptions struct {
	PullZoneID int64
	From       time.Time
	To         time.Time
}

// GetStatistics returns aggregate traffic statistics, optionally scoped to a
// pull zone and date range.
func (c *Client) GetStatistics(ctx context.Context, opts *StatisticsOptions) (*Statistics, error) {
	params := url.Values{}
	if opts != nil {
		if opts.PullZoneID > 0 {
			params.Set("pullZone", strconv.FormatInt(opts.PullZoneID, 10))
		}
		if !opts.From.IsZero() {
			params.Set("dateFrom", opts.From.Format(time.RFC3339))
		}
		if !opts.To.IsZero() {
			params.Set("dateTo", opts.To.Format(time.RFC3339))
		}
	}
	path := "/statistics"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var stats Statistics
	if err := c.get(ctx, path, "get_statistics", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) get(ctx context.Context, path, subject string, dest any) error {
	return c.do(ctx, http.MethodGet, path, subject, dest)
}

func (c *Client) post(ctx context.Context, path, subject string, dest any) error {
	return c.do(ctx, http.MethodPost, path, subject, dest)
}

func (c *Client) do(ctx context.Context, method, path, subject string, dest any) error {
	endpoint := method + " " + strings.SplitN(path, "?", 2)[0]
	ins := c.pipeline.InstrumentAPICall("cdn", endpoint, subject)

	err := c.doRequest(ctx, method, path, dest)
	if err != nil {
		ins.Finish(err, nil)
		return err
	}
	ins.Finish(nil, map[string]string{"endpoint": endpoint})
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("cdnapi: create request: %w", err)
	}
	req.Header.Set("AccessKey", c.accessKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cdnapi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cdnapi: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(bodyBytes, apiErr) != nil || (apiErr.Message == "" && apiErr.ErrorKey == "") {
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("cdnapi: %w", apiErr)
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent || len(bodyBytes) == 0 {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("cdnapi: decode response: %w", err)
	}
	return nil
}
