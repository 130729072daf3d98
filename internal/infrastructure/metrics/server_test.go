package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_engine/internal/infrastructure/health"
	"trade_engine/pkg/logging"
	"trade_engine/pkg/telemetry"
)

func TestServer_HealthReflectsManager(t *testing.T) {
	hm := health.NewManager(nil)
	srv := NewServer(0, hm, logging.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	telemetry.GetGlobalMetrics().SetRPCConnected("metrics-test", true)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["rpc_connected"].(map[string]interface{})["metrics-test"])

	hm.Register("rpc_client", func() error { return errors.New("heartbeat lost") })
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StartServesMetrics(t *testing.T) {
	srv := NewServer(0, nil, logging.NewNop())
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}
