package liveserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	healthy bool
}

func (f fakeHealth) IsHealthy() bool { return f.healthy }

func (f fakeHealth) GetStatus() map[string]string {
	if f.healthy {
		return map[string]string{"rpc": "Healthy"}
	}
	return map[string]string{"rpc": "Unhealthy: heartbeat lost"}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *Hub, string) {
	t.Helper()
	hub := runHub(t)
	server := NewServer(hub, nil, cfg)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, hub, ts.URL
}

func dial(t *testing.T, base, query, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(base, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_WelcomeAndFilteredStream(t *testing.T) {
	server, hub, base := newTestServer(t, Config{AllowedOrigins: []string{"*"}})

	conn, _, err := dial(t, base, "?topic=eTrade.", "http://test.local")
	require.NoError(t, err)

	welcome := readMessage(t, conn)
	assert.Equal(t, TopicWelcome, welcome.Topic)
	data := welcome.Data.(map[string]interface{})
	assert.NotEmpty(t, data["client_id"])
	assert.Equal(t, []interface{}{"eTrade."}, data["topics"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, server.ClientCount())

	server.Publish("eTick.BTCUSDT.BINANCE", map[string]interface{}{"last_price": "1"})
	server.Publish("eTrade.MOCK.1", map[string]interface{}{"tradeid": "1"})

	msg := readMessage(t, conn)
	assert.Equal(t, "eTrade.MOCK.1", msg.Topic)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_SubscribeCommand(t *testing.T) {
	server, hub, base := newTestServer(t, Config{AllowedOrigins: []string{"*"}})

	conn, _, err := dial(t, base, "?topic=eTrade.", "http://test.local")
	require.NoError(t, err)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Command{Action: ActionSubscribe, Topic: "eOrder."}))

	// commands are applied asynchronously; keep publishing until one lands
	got := make(chan Message, 1)
	go func() {
		var msg Message
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if conn.ReadJSON(&msg) == nil {
			got <- msg
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		server.Publish("eOrder.MOCK.1", "order")
		select {
		case msg := <-got:
			assert.Equal(t, "order", msg.Data)
			return
		case <-deadline:
			t.Fatal("no order event after subscribe command")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestServer_OriginWhitelist(t *testing.T) {
	_, _, base := newTestServer(t, Config{AllowedOrigins: []string{"http://localhost:8081"}})

	_, _, err := dial(t, base, "", "http://localhost:8081")
	require.NoError(t, err)

	_, resp, err := dial(t, base, "", "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, base, "", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_WildcardRejectedInProduction(t *testing.T) {
	server, _, base := newTestServer(t, Config{AllowedOrigins: []string{"*"}})
	server.SetProduction(true)

	_, resp, err := dial(t, base, "", "http://anything.example")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ConnectionLimit(t *testing.T) {
	_, _, base := newTestServer(t, Config{AllowedOrigins: []string{"*"}, MaxConnections: 2})

	for i := 0; i < 2; i++ {
		_, _, err := dial(t, base, "", "http://localhost")
		require.NoError(t, err)
	}

	_, resp, err := dial(t, base, "", "http://localhost")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_IPRateLimit(t *testing.T) {
	server, _, base := newTestServer(t, Config{AllowedOrigins: []string{"*"}})
	server.SetRateLimit(0.001, 2)

	for i := 0; i < 2; i++ {
		_, _, err := dial(t, base, "", "http://localhost")
		require.NoError(t, err)
	}

	_, resp, err := dial(t, base, "", "http://localhost")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	server, _, base := newTestServer(t, DefaultConfig())

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	server.SetHealthReporter(fakeHealth{healthy: false})
	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	body = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "Unhealthy: heartbeat lost", body["components"].(map[string]interface{})["rpc"])
}

func TestServer_Metrics(t *testing.T) {
	_, _, base := newTestServer(t, DefaultConfig())

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	hub := runHub(t)
	server := NewServer(hub, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.True(t, err == nil || errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, server.Stop(context.Background()))
}
