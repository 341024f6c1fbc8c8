// Package deliver sends encoded telemetry payloads to external HTTP
// endpoints, injecting per-destination authentication headers.
package deliver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Auth kinds accepted by AuthConfig.
const (
	AuthNone   = ""
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "api-key"
)

// AuthConfig describes how to authenticate against one endpoint.
type AuthConfig struct {
	Kind string `yaml:"kind"` // "", "bearer", "basic", or "api-key"

	// Token is the bearer token for Kind "bearer".
	Token string `yaml:"token"`

	// Username/Password are used for Kind "basic".
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Header/Key are used for Kind "api-key". Header defaults to "X-API-Key".
	Header string `yaml:"header"`
	Key    string `yaml:"key"`
}

// Apply sets the authentication header on req according to the config.
func (a AuthConfig) Apply(req *http.Request) {
	switch a.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		header := a.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, a.Key)
	}
}

// HTTPSender posts payloads to a URL. All methods are safe for concurrent use.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates a sender with the given per-request timeout.
// A zero timeout defaults to 10 seconds.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

// Send posts body to url with the given content type and auth. A non-2xx
// response is an error; the response body is drained so connections are
// reused.
func (s *HTTPSender) Send(ctx context.Context, url, contentType string, body []byte, auth AuthConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	auth.Apply(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver: %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
