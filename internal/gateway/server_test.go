package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mFahadNoor/whop-ai-support-sub000/pkg/protocol"
)

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, func() HealthStatus {
		return HealthStatus{StreamConnected: true, Mappings: 3, Pending: 1}
	})
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, protocol.ProtocolVersion, got.Protocol)
	assert.True(t, got.StreamConnected)
	assert.Equal(t, 3, got.Mappings)
	assert.Equal(t, 1, got.Pending)
}

func TestHealthWithoutProbe(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, nil)
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
