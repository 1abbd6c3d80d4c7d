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

func TestNewHandler(t *testing.T) {
	manager := NewManager(nil)
	handler := NewHandler(manager)

	assert.Equal(t, manager, handler.manager)
	assert.NotZero(t, handler.startTime)
}

func TestHandleHealth(t *testing.T) {
	manager := NewManager(nil)
	manager.Register(&mockChecker{name: "test"})
	handler := NewHandler(manager)
	handler.startTime = time.Now().Add(-90 * time.Second)

	rr := httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

	var response Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	assert.Equal(t, StatusOK, response.Status)
	assert.NotZero(t, response.Timestamp)
	assert.NotEmpty(t, response.Version)
	assert.Equal(t, "1m30s", response.Uptime)
	assert.Equal(t, int64(90), response.UptimeSeconds)
	assert.Contains(t, response.Checks, "test")
}

func TestHandleHealth_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus Status
		wantCode   int
	}{
		{"ok", nil, StatusOK, http.StatusOK},
		{"degraded", Degraded(errors.New("slow")), StatusDegraded, http.StatusOK},
		{"down", assert.AnError, StatusDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(nil)
			manager.Register(&mockChecker{name: "c", err: tt.err})
			handler := NewHandler(manager)

			rr := httptest.NewRecorder()
			handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))
			assert.Equal(t, tt.wantCode, rr.Code)

			var response Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.wantStatus, response.Status)
		})
	}
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(nil)
	manager.Register(&mockChecker{name: "test"})
	handler := NewHandler(manager)

	// no results yet
	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	manager.RunChecks(context.Background())
	rr = httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var response statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, StatusOK, response.Status)
	assert.NotZero(t, response.Timestamp)
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(nil))

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest("GET", "/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "alive", response.Status)
}
