package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

func newDeviceTestClient(t *testing.T, deviceHandler, tokenHandler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	if deviceHandler != nil {
		mux.HandleFunc("/device_authorization", deviceHandler)
	}
	if tokenHandler != nil {
		mux.HandleFunc("/token", tokenHandler)
	}
	server := httptest.NewServer(mux)

	metadata, err := NewClientMetadata("client-1", WithClientSecret("s3cr3t"), WithTokenEndpointAuthMethod(oidc.AuthMethodPost))
	require.NoError(t, err)
	issuer := &oidc.StaticIssuer{Config: &oidc.DiscoveryConfiguration{
		Issuer:                      server.URL,
		TokenEndpoint:               server.URL + "/token",
		DeviceAuthorizationEndpoint: server.URL + "/device_authorization",
	}}
	c, err := NewClient(metadata, issuer, server.Client())
	require.NoError(t, err)
	return c, server
}

func TestDeviceAuthorization(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		check    func(t *testing.T, handle *DeviceFlowHandle)
	}{
		{
			name: "returns a pending handle",
			response: map[string]any{
				"device_code":      "dc-1",
				"user_code":        "ABCD-EFGH",
				"verification_uri": "https://issuer.example/device",
				"expires_in":       float64(600),
				"interval":         float64(5),
			},
			check: func(t *testing.T, handle *DeviceFlowHandle) {
				assert.Equal(t, DeviceFlowPending, handle.State)
				assert.Equal(t, "dc-1", handle.DeviceCode)
				assert.Equal(t, "ABCD-EFGH", handle.UserCode)
				assert.Equal(t, 5*time.Second, handle.Interval)
			},
		},
		{
			name:     "defaults the interval when absent",
			response: map[string]any{"device_code": "dc-1", "user_code": "ABCD", "expires_in": float64(600)},
			check: func(t *testing.T, handle *DeviceFlowHandle) {
				assert.Equal(t, 5*time.Second, handle.Interval)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, server := newDeviceTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(tt.response)
			}, nil)
			defer server.Close()

			handle, err := c.DeviceAuthorization(context.Background(), nil)
			require.NoError(t, err)
			tt.check(t, handle)
		})
	}
}

func devicePollHandle(c *Client) *DeviceFlowHandle {
	return &DeviceFlowHandle{client: c, DeviceCode: "dc-1", State: DeviceFlowPending, Interval: 5 * time.Second}
}

func TestPoll(t *testing.T) {
	tests := []struct {
		name       string
		response   map[string]any
		statusCode int
		wantErr    bool
		wantState  DeviceFlowState
		checkDelta bool
	}{
		{
			name:       "authorization_pending keeps it pending",
			response:   map[string]any{"error": oidc.ErrorAuthorizationPending},
			statusCode: http.StatusBadRequest,
			wantErr:    true,
			wantState:  DeviceFlowPending,
		},
		{
			name:       "slow_down increases the interval and stays pending",
			response:   map[string]any{"error": oidc.ErrorSlowDown},
			statusCode: http.StatusBadRequest,
			wantErr:    true,
			wantState:  DeviceFlowPending,
			checkDelta: true,
		},
		{
			name:       "access_denied is terminal",
			response:   map[string]any{"error": oidc.ErrorAccessDenied},
			statusCode: http.StatusBadRequest,
			wantErr:    true,
			wantState:  DeviceFlowDenied,
		},
		{
			name:       "expired_token is terminal",
			response:   map[string]any{"error": oidc.ErrorExpiredToken},
			statusCode: http.StatusBadRequest,
			wantErr:    true,
			wantState:  DeviceFlowExpired,
		},
		{
			name:       "any other response grants the token",
			response:   map[string]any{"access_token": "at-1", "token_type": "Bearer"},
			statusCode: http.StatusOK,
			wantState:  DeviceFlowGranted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, server := newDeviceTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			})
			defer server.Close()

			handle := devicePollHandle(c)
			originalInterval := handle.Interval
			ts, err := handle.Poll(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "at-1", ts.AccessToken)
			}
			assert.Equal(t, tt.wantState, handle.State)
			if tt.checkDelta {
				assert.Equal(t, originalInterval+5*time.Second, handle.Interval)
			}
		})
	}
}
