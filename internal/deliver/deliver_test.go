package deliver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthConfig_Apply(t *testing.T) {
	tests := []struct {
		name       string
		auth       AuthConfig
		wantHeader string
		wantValue  string
	}{
		{
			name:       "bearer",
			auth:       AuthConfig{Kind: AuthBearer, Token: "tok123"},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok123",
		},
		{
			name:       "api key default header",
			auth:       AuthConfig{Kind: AuthAPIKey, Key: "secret"},
			wantHeader: "X-API-Key",
			wantValue:  "secret",
		},
		{
			name:       "api key custom header",
			auth:       AuthConfig{Kind: AuthAPIKey, Header: "AccessKey", Key: "secret"},
			wantHeader: "AccessKey",
			wantValue:  "secret",
		},
		{
			name:       "none leaves headers untouched",
			auth:       AuthConfig{},
			wantHeader: "Authorization",
			wantValue:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "http://example.com", nil)
			require.NoError(t, err)
			tt.auth.Apply(req)
			assert.Equal(t, tt.wantValue, req.Header.Get(tt.wantHeader))
		})
	}
}

func TestAuthConfig_ApplyBasic(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, err)

	AuthConfig{Kind: AuthBasic, Username: "user", Password: "pass"}.Apply(req)

	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "pass", pass)
}

func TestHTTPSender_Send(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewHTTPSender(time.Second)
	err := sender.Send(context.Background(), srv.URL, "application/json", []byte(`{"x":1}`),
		AuthConfig{Kind: AuthBearer, Token: "tok"})

	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(gotBody))
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestHTTPSender_SendNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewHTTPSender(time.Second)
	err := sender.Send(context.Background(), srv.URL, "text/plain", []byte("body"), AuthConfig{})

	assert.ErrorContains(t, err, "status 502")
}
