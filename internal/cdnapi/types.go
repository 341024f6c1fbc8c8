package cdnapi

// PullZone is a CDN pull zone as returned by the upstream API.
type PullZone struct {
	ID                   int64      `json:"Id"`
	Name                 string     `json:"Name"`
	OriginURL            string     `json:"OriginUrl"`
	Enabled              bool       `json:"Enabled"`
	Hostnames            []Hostname `json:"Hostnames"`
	CacheControlMaxAge   int64      `json:"CacheControlMaxAgeOverride"`
	MonthlyBandwidthUsed int64      `json:"MonthlyBandwidthUsed"`
}

// Hostname is a hostname attached to a pull zone.
type Hostname struct {
	ID               int64  `json:"Id"`
	Value            string `json:"Value"`
	ForceSSL         bool   `json:"ForceSSL"`
	IsSystemHostname bool   `json:"IsSystemHostname"`
}

// Statistics is an aggregate traffic report for the account or a single zone.
type Statistics struct {
	TotalBandwidthUsed  int64              `json:"TotalBandwidthUsed"`
	TotalRequestsServed int64              `json:"TotalRequestsServed"`
	CacheHitRate        float64            `json:"CacheHitRate"`
	BandwidthUsedChart  map[string]float64 `json:"BandwidthUsedChart"`
	RequestsServedChart map[string]float64 `json:"RequestsServedChart"`
}

// APIError is a structured error response from the upstream API.
type APIError struct {
	StatusCode int
	ErrorKey   string `json:"ErrorKey"`
	Message    string `json:"Message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.ErrorKey != "" {
		return e.ErrorKey
	}
	return "upstream API error"
}
