package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	formPostRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "https://rp.example/cb", strings.NewReader("code=abc&state=xyz"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	tests := []struct {
		name    string
		input   any
		wantErr bool
		check   func(t *testing.T, params CallbackParams)
	}{
		{
			name:  "URL string with a query",
			input: "https://rp.example/cb?code=abc&state=xyz",
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "abc", params["code"])
				assert.Equal(t, "xyz", params["state"])
			},
		},
		{
			name:  "URL string with a fragment",
			input: "https://rp.example/cb#access_token=at-1&token_type=Bearer",
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "at-1", params["access_token"])
				assert.Equal(t, "Bearer", params["token_type"])
			},
		},
		{
			name:  "bare query string",
			input: "code=abc&state=xyz",
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "abc", params["code"])
			},
		},
		{
			name:  "url.Values drops unrecognized keys",
			input: url.Values{"code": {"abc"}, "unexpected": {"ignored"}},
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "abc", params["code"])
				_, ok := params["unexpected"]
				assert.False(t, ok)
			},
		},
		{
			name:  "map[string]string surfaces an error response",
			input: map[string]string{"error": "access_denied", "error_description": "user declined"},
			check: func(t *testing.T, params CallbackParams) {
				assert.True(t, params.IsError())
				assert.Equal(t, "access_denied", params["error"])
				assert.Equal(t, "user declined", params["error_description"])
			},
		},
		{
			name:  "map[string]any drops non-string values rather than coercing them",
			input: map[string]any{"code": "abc", "expires_in": 3600},
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "abc", params["code"])
				_, ok := params["expires_in"]
				assert.False(t, ok)
			},
		},
		{
			name:  "GET request",
			input: httptest.NewRequest(http.MethodGet, "https://rp.example/cb?code=abc&state=xyz", nil),
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "abc", params["code"])
			},
		},
		{
			name:  "form POST request",
			input: formPostRequest(),
			check: func(t *testing.T, params CallbackParams) {
				assert.Equal(t, "abc", params["code"])
				assert.Equal(t, "xyz", params["state"])
			},
		},
		{
			name:  "no error present",
			input: "code=abc",
			check: func(t *testing.T, params CallbackParams) {
				assert.False(t, params.IsError())
			},
		},
		{
			name:    "rejects an unsupported input type",
			input:   42,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParseCallback(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, params)
		})
	}
}
