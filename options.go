package edgelight

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port         int
	portSet      bool
	logger       *slog.Logger
	version      string
	baseURL      string
	accessKey    string
	cdnClient    CDNClient
	checks       []Check
	pushTargets  []PushTarget
	destinations []Destination
}

// WithPort overrides the HTTP port from config (EDGELIGHT_PORT env var).
// Port 0 disables the HTTP surface; the server runs MCP over stdio only.
func WithPort(port int) Option {
	return func(o *resolvedOptions) {
		o.port = port
		o.portSet = true
	}
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in health reports and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithCDNCredentials overrides the upstream API base URL and access key from
// config (EDGELIGHT_API_BASE_URL / EDGELIGHT_API_ACCESS_KEY env vars).
func WithCDNCredentials(baseURL, accessKey string) Option {
	return func(o *resolvedOptions) {
		o.baseURL = baseURL
		o.accessKey = accessKey
	}
}

// WithCDNClient replaces the built-in upstream HTTP client. When set, CDN
// credentials are not required.
func WithCDNClient(c CDNClient) Option {
	return func(o *resolvedOptions) { o.cdnClient = c }
}

// WithCheck registers a custom health check alongside the built-in ones.
// Multiple checks may be registered; all run each check cycle.
func WithCheck(c Check) Option {
	return func(o *resolvedOptions) { o.checks = append(o.checks, c) }
}

// WithPushTarget registers a metric push target alongside any declared in
// the YAML config file.
func WithPushTarget(t PushTarget) Option {
	return func(o *resolvedOptions) { o.pushTargets = append(o.pushTargets, t) }
}

// WithDestination registers a telemetry export destination alongside any
// declared in the YAML config file.
func WithDestination(d Destination) Option {
	return func(o *resolvedOptions) { o.destinations = append(o.destinations, d) }
}
