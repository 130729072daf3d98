package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_API_KEY}",
			envVars:  map[string]string{"TEST_API_KEY": "test_key_123"},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_ServerNode(t *testing.T) {
	t.Setenv("TEST_MOCK_API_KEY", "api_key_from_env")

	path := filepath.Join(t.TempDir(), "node.yaml")
	content := `app:
  name: "node-a"
  role: "server"

event:
  timer_interval_ms: 500
  queue_capacity: 10000

rpc:
  server:
    rep_address: "tcp://*:2014"
    pub_address: "tcp://*:4102"
    heartbeat_interval_sec: 5

gateways:
  MOCK:
    type: mock
    api_key: "${TEST_MOCK_API_KEY}"
    settings:
      symbols: "BTCUSDT"
      balance: 5000

system:
  log_level: "debug"

telemetry:
  enable_metrics: true
  metrics_port: 9095

live_server:
  enabled: true
  port: 8082
  allowed_origins: ["http://localhost:3000"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.App.Name)
	assert.Equal(t, 500*time.Millisecond, cfg.TimerInterval())
	assert.Equal(t, 10000, cfg.Event.QueueCapacity)
	assert.Equal(t, 4, cfg.Event.AsyncWorkers)
	assert.Equal(t, Secret("api_key_from_env"), cfg.Gateways["MOCK"].APIKey)

	server := cfg.ServerConfig()
	assert.Equal(t, "tcp://*:2014", server.RepAddress)
	assert.Equal(t, 5*time.Second, server.HeartbeatInterval)

	settings := cfg.GatewaySettings("MOCK")
	assert.Equal(t, "BTCUSDT", settings.String("symbols", ""))
	assert.Equal(t, 5000, settings.Int("balance", 0))
	assert.Equal(t, "api_key_from_env", settings.String("api_key", ""))
}

func TestGatewaySettings_RPCInheritsClientSection(t *testing.T) {
	cfg, err := Parse([]byte(`
app:
  role: client
rpc:
  client:
    req_address: "tcp://10.0.0.5:2014"
    sub_address: "tcp://10.0.0.5:4102"
    timeout_ms: 1500
gateways:
  REMOTE:
    type: rpc
    settings:
      timeout_ms: 2500
`))
	require.NoError(t, err)

	settings := cfg.GatewaySettings("REMOTE")
	assert.Equal(t, "tcp://10.0.0.5:2014", settings.String("req_address", ""))
	assert.Equal(t, 2500, settings.Int("timeout_ms", 0))
	assert.Equal(t, 30, settings.Int("heartbeat_tolerance_sec", 0))

	client := cfg.ClientConfig("REMOTE")
	assert.Equal(t, 1500*time.Millisecond, client.Timeout)
	assert.Equal(t, time.Second, client.PollInterval)
	assert.Equal(t, 100, client.CacheSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad role", func(c *Config) { c.App.Role = "proxy" }, "app.role"},
		{"timer too fast", func(c *Config) { c.Event.TimerIntervalMs = 1 }, "event.timer_interval_ms"},
		{"negative queue", func(c *Config) { c.Event.QueueCapacity = -1 }, "event.queue_capacity"},
		{"non tcp endpoint", func(c *Config) { c.RPC.Server.RepAddress = "ipc:///tmp/x" }, "rpc.server.rep_address"},
		{"tolerance below interval", func(c *Config) { c.RPC.Client.HeartbeatToleranceSec = 5 }, "rpc.client.heartbeat_tolerance_sec"},
		{"poll interval too long", func(c *Config) { c.RPC.Client.PollIntervalMs = 5000 }, "rpc.client.poll_interval_ms"},
		{"no gateways", func(c *Config) { c.Gateways = nil }, "gateways"},
		{"unknown gateway type", func(c *Config) { c.Gateways["MOCK"] = GatewayConfig{Type: "ftx"} }, "gateways.MOCK.type"},
		{"dotted gateway name", func(c *Config) { c.Gateways["A.B"] = GatewayConfig{Type: GatewayMock} }, "gateways.A.B"},
		{"rpc gateway on server", func(c *Config) { c.Gateways["R"] = GatewayConfig{Type: GatewayRPC} }, "gateways.R.type"},
		{"bad log level", func(c *Config) { c.System.LogLevel = "LOUD" }, "system.log_level"},
		{"port clash", func(c *Config) {
			c.Telemetry.EnableMetrics = true
			c.LiveServer.Enabled = true
			c.LiveServer.Port = c.Telemetry.MetricsPort
		}, "live_server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "'"+tt.field+"'")
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestIsCriticalEnvVar(t *testing.T) {
	assert.True(t, isCriticalEnvVar("BINANCE_API_KEY"))
	assert.True(t, isCriticalEnvVar("OKX_PASSPHRASE"))
	assert.False(t, isCriticalEnvVar("RANDOM_VAR"))
	assert.False(t, isCriticalEnvVar(""))
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateways["MOCK"] = GatewayConfig{
		Type:      GatewayMock,
		APIKey:    Secret("my_super_secret_api_key"),
		SecretKey: Secret("my_super_secret_secret_key"),
		Settings:  map[string]any{"access_token": "my_super_secret_token", "symbols": "BTCUSDT"},
	}
	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]")
	assert.Contains(t, output, "BTCUSDT")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_secret_key")
	assert.NotContains(t, output, "my_super_secret_token")

	// the original map is untouched
	assert.Equal(t, "my_super_secret_token", cfg.Gateways["MOCK"].Settings["access_token"])
}
