package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_engine/internal/config"
)

func testConfig(role string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.App.Role = role
	cfg.System.LogLevel = "ERROR"
	cfg.RPC.Server.RepAddress = "tcp://127.0.0.1:0"
	cfg.RPC.Server.PubAddress = "tcp://127.0.0.1:0"
	cfg.RPC.Server.HeartbeatIntervalSec = 1
	cfg.RPC.Client.HeartbeatToleranceSec = 3
	return cfg
}

func runNode(t *testing.T, cfg *config.Config) (*Node, context.CancelFunc, <-chan error) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	app, err := NewAppFromConfig(cfg)
	require.NoError(t, err)
	node, err := NewNode(app)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx, node) }()
	t.Cleanup(cancel)
	return node, cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestCheckPreFlight(t *testing.T) {
	cfg := testConfig(config.RoleServer)
	assert.NoError(t, CheckPreFlight(cfg))

	cfg.App.Role = config.RoleClient
	assert.ErrorContains(t, CheckPreFlight(cfg), `needs at least one "rpc" gateway`)

	cfg.Gateways = map[string]config.GatewayConfig{"RPC": {Type: config.GatewayRPC}}
	assert.NoError(t, CheckPreFlight(cfg))

	cfg.Gateways = nil
	assert.ErrorContains(t, CheckPreFlight(cfg), "no gateways configured")
}

func TestLoadConfig_RunsPreFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  role: client
gateways:
  MOCK:
    type: mock
`), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "pre-flight checks failed")

	_, err = NewApp(path)
	assert.ErrorContains(t, err, "config:")
}

type countingService struct {
	started, stopped atomic.Int32
	startErr         error
}

func (s *countingService) Start(context.Context) error {
	s.started.Add(1)
	return s.startErr
}

func (s *countingService) Stop() { s.stopped.Add(1) }

func TestApp_RunContextStopsServices(t *testing.T) {
	app, err := NewAppFromConfig(testConfig(config.RoleServer))
	require.NoError(t, err)

	svc := &countingService{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx, ServiceRunner(svc)) }()

	require.Eventually(t, func() bool { return svc.started.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)
	assert.Equal(t, int32(1), svc.stopped.Load())
}

func TestApp_RunnerFailureCancelsOthers(t *testing.T) {
	app, err := NewAppFromConfig(testConfig(config.RoleServer))
	require.NoError(t, err)

	boom := errors.New("bind failed")
	svc := &countingService{}
	err = app.RunContext(context.Background(),
		ServiceRunner(svc),
		RunnerFunc(func(context.Context) error { return boom }),
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, svc.started.Load(), svc.stopped.Load())
}

func TestNode_ServerAndClientMirror(t *testing.T) {
	server, stopServer, serverDone := runNode(t, testConfig(config.RoleServer))
	require.NotNil(t, server.Service)
	require.Eventually(t, func() bool { return server.Service.Server().Active() }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(server.Main.OMS().GetAllContracts()) == 2 }, 2*time.Second, 10*time.Millisecond)

	clientCfg := testConfig(config.RoleClient)
	clientCfg.Gateways = map[string]config.GatewayConfig{
		"RPC": {
			Type: config.GatewayRPC,
			Settings: map[string]any{
				"req_address": server.Service.Server().RepAddr(),
				"sub_address": server.Service.Server().PubAddr(),
			},
		},
	}
	client, stopClient, clientDone := runNode(t, clientCfg)
	assert.Nil(t, client.Service, "client nodes do not serve RPC")

	require.Eventually(t, func() bool {
		return len(client.Main.OMS().GetAllContracts()) == 2
	}, 3*time.Second, 10*time.Millisecond)
	contract, ok := client.Main.OMS().GetContract("BTCUSDT.BINANCE")
	require.True(t, ok)
	assert.Equal(t, "RPC", contract.GatewayName)
	assert.Equal(t, "Healthy", client.app.Health.GetStatus()["gateway.RPC"])

	stopClient()
	waitStopped(t, clientDone)
	stopServer()
	waitStopped(t, serverDone)
	assert.False(t, server.Events.Active())
}
