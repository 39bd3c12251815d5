package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendEvent(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"events_received":1}`,
		},
		{
			name:   "accepted_is_success",
			status: http.StatusAccepted,
			body:   `{}`,
		},
		{
			name:    "server_error",
			status:  http.StatusInternalServerError,
			body:    `{"error":"boom"}`,
			wantErr: "unexpected status 500",
		},
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"error":"bad key"}`,
			wantErr: "unexpected status 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/functions/v1/meta-capi", r.URL.Path)
				assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var ev CAPIEvent
				require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
				assert.Equal(t, "mof_v1_form_complete_stg", ev.EventName)
				assert.Equal(t, "sess-1_mof_v1_form_complete_1700000000000_1", ev.EventID)
				assert.NotZero(t, ev.EventTime)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "anon-key", WithLogger(zap.NewNop()))
			err := c.SendEvent(context.Background(), CAPIEvent{
				EventName: "mof_v1_form_complete_stg",
				EventID:   "sess-1_mof_v1_form_complete_1700000000000_1",
				EventTime: 1700000000,
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSendEventMissingConfig(t *testing.T) {
	c := NewClient("", "", WithLogger(zap.NewNop()))
	err := c.SendEvent(context.Background(), CAPIEvent{EventName: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing base URL")

	c = NewClient("https://example.supabase.co", "", WithLogger(zap.NewNop()))
	err = c.SendEvent(context.Background(), CAPIEvent{EventName: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing anon key")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantIP  string
		wantErr string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"ip":"203.0.113.9"}`,
			wantIP: "203.0.113.9",
		},
		{
			name:   "whitespace_trimmed",
			status: http.StatusOK,
			body:   `{"ip":"  203.0.113.9 "}`,
			wantIP: "203.0.113.9",
		},
		{
			name:    "missing_ip_field",
			status:  http.StatusOK,
			body:    `{"address":"203.0.113.9"}`,
			wantErr: "missing ip",
		},
		{
			name:    "malformed_json",
			status:  http.StatusOK,
			body:    `{not json`,
			wantErr: "unmarshal response",
		},
		{
			name:    "server_error",
			status:  http.StatusBadGateway,
			body:    `{"error":"upstream"}`,
			wantErr: "unexpected status 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/functions/v1/get-client-ip", r.URL.Path)
				assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "anon-key", WithLogger(zap.NewNop()))
			ip, err := c.ClientIP(context.Background())

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIP, ip)
		})
	}
}

func TestClientIPTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, "anon-key",
		WithLogger(zap.NewNop()),
		WithIPTimeout(30*time.Millisecond),
	)

	start := time.Now()
	_, err := c.ClientIP(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "timeout must bound the call")
}

func TestSendEventRateLimited(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// 1 token, no refill within the test window: second send must block
	// until the context expires.
	c := NewClient(srv.URL, "anon-key",
		WithLogger(zap.NewNop()),
		WithRateLimit(0.001, 1),
	)

	require.NoError(t, c.SendEvent(context.Background(), CAPIEvent{EventName: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.SendEvent(ctx, CAPIEvent{EventName: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, hits)
}

func TestBaseURLTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/get-client-ip", r.URL.Path)
		_, _ = w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "anon-key", WithLogger(zap.NewNop()))
	ip, err := c.ClientIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)
}
