// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(status Status) Checker {
	return CheckerFunc(string(status), func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestReadyWithoutCheckers(t *testing.T) {
	resp := NewManager("v1").Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)
}

func TestReadyAggregates(t *testing.T) {
	tests := []struct {
		name      string
		checkers  []Checker
		wantReady bool
		want      Status
	}{
		{"all healthy", []Checker{fixed(StatusHealthy)}, true, StatusHealthy},
		{"degraded stays ready", []Checker{fixed(StatusHealthy), fixed(StatusDegraded)}, true, StatusDegraded},
		{"unhealthy wins", []Checker{fixed(StatusUnhealthy), fixed(StatusDegraded)}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1")
			m.Register(tt.checkers...)
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestReadyAppliesTimeout(t *testing.T) {
	m := NewManager("v1")
	m.timeout = 20 * time.Millisecond
	m.Register(CheckerFunc("slow", func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return Failed(ctx.Err(), "")
	}))
	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Contains(t, resp.Checks["slow"].Error, "deadline")
}

func TestServeReady(t *testing.T) {
	m := NewManager("v2")
	m.Register(CheckerFunc("storage", func(context.Context) CheckResult {
		return Failed(errors.New("disk gone"), "")
	}))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "v2", body.Version)
	assert.Equal(t, "disk gone", body.Checks["storage"].Error)
}
