// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestSameOrigin(t *testing.T) {
	r := NewRouter(StackConfig{AllowedOrigins: []string{"https://ops.example:443"}})
	r.Post("/mutate", okHandler)
	r.Get("/read", okHandler)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"get never checked", http.MethodGet, "/read", map[string]string{"Origin": "https://evil.example"}, http.StatusOK},
		{"cli without origin", http.MethodPost, "/mutate", nil, http.StatusOK},
		{"same origin", http.MethodPost, "/mutate", map[string]string{"Origin": "http://127.0.0.1:8089"}, http.StatusOK},
		{"allowed origin default port", http.MethodPost, "/mutate", map[string]string{"Origin": "https://OPS.example"}, http.StatusOK},
		{"referer fallback", http.MethodPost, "/mutate", map[string]string{"Referer": "http://127.0.0.1:8089/ui/index.html"}, http.StatusOK},
		{"foreign origin", http.MethodPost, "/mutate", map[string]string{"Origin": "https://evil.example"}, http.StatusForbidden},
		{"malformed origin", http.MethodPost, "/mutate", map[string]string{"Origin": "null"}, http.StatusForbidden},
		{"same origin behind proxy", http.MethodPost, "/mutate", map[string]string{
			"Origin":          "http://127.0.0.1:8089",
			"X-Forwarded-For": "10.0.0.1",
		}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Host = "127.0.0.1:8089"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	r := NewRouter(StackConfig{})
	r.Get("/", okHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
}

func TestRecoverer(t *testing.T) {
	r := NewRouter(StackConfig{EnableMetrics: true, EnableLogging: true})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(HeaderRequestID, "req-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "internal_error", body.Error)
	assert.Equal(t, "req-7", body.RequestID)

	// A generated ID is reported too.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, rec.Header().Get(HeaderRequestID), body.RequestID)
}

func TestRateLimit(t *testing.T) {
	r := NewRouter(StackConfig{RateLimitPerMinute: 2})
	r.Get("/", okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTracingFilters(t *testing.T) {
	assert.False(t, shouldTrace(httptest.NewRequest(http.MethodGet, "/healthz", nil)))
	assert.False(t, shouldTrace(httptest.NewRequest(http.MethodGet, "/metrics", nil)))
	assert.True(t, shouldTrace(httptest.NewRequest(http.MethodGet, "/api/session", nil)))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?token=secret", nil)
	assert.Equal(t, "HTTP GET /api/sessions?", spanName("", req))
}
