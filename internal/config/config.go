// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"trade_engine/internal/gateway"
	"trade_engine/pkg/cli"
	"trade_engine/pkg/rpc"

	"gopkg.in/yaml.v3"
)

// Node roles
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Gateway types
const (
	GatewayMock = "mock"
	GatewayRPC  = "rpc"
)

// Config represents the complete configuration structure
type Config struct {
	App        AppConfig                `yaml:"app"`
	Event      EventConfig              `yaml:"event"`
	RPC        RPCConfig                `yaml:"rpc"`
	Gateways   map[string]GatewayConfig `yaml:"gateways"`
	System     SystemConfig             `yaml:"system"`
	Telemetry  TelemetryConfig          `yaml:"telemetry"`
	LiveServer LiveServerConfig         `yaml:"live_server"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"` // server publishes its engine over RPC, client mirrors one
}

// EventConfig tunes the event engine
type EventConfig struct {
	TimerIntervalMs int `yaml:"timer_interval_ms"`
	QueueCapacity   int `yaml:"queue_capacity"` // 0 = unbounded
	AsyncWorkers    int `yaml:"async_workers"`
}

// RPCConfig holds both ends of the RPC fabric
type RPCConfig struct {
	Server RPCServerConfig `yaml:"server"`
	Client RPCClientConfig `yaml:"client"`
}

// RPCServerConfig contains the bind addresses of the RPC service
type RPCServerConfig struct {
	RepAddress           string `yaml:"rep_address"`
	PubAddress           string `yaml:"pub_address"`
	HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec"`
}

// RPCClientConfig contains the peer addresses used by rpc gateways
type RPCClientConfig struct {
	ReqAddress            string `yaml:"req_address"`
	SubAddress            string `yaml:"sub_address"`
	TimeoutMs             int    `yaml:"timeout_ms"`
	HeartbeatToleranceSec int    `yaml:"heartbeat_tolerance_sec"`
	PollIntervalMs        int    `yaml:"poll_interval_ms"`
	CacheSize             int    `yaml:"cache_size"`
	DialRetries           int    `yaml:"dial_retries"`
}

// GatewayConfig describes one gateway instance
type GatewayConfig struct {
	Type       string         `yaml:"type"`
	APIKey     Secret         `yaml:"api_key"`
	SecretKey  Secret         `yaml:"secret_key"`
	Passphrase Secret         `yaml:"passphrase"`
	Settings   map[string]any `yaml:"settings"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// LiveServerConfig configures the WebSocket event stream
type LiveServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills every unset field with its default
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "trade_engine"
	}
	if c.App.Role == "" {
		c.App.Role = RoleServer
	}
	if c.Event.TimerIntervalMs == 0 {
		c.Event.TimerIntervalMs = 1000
	}
	if c.Event.AsyncWorkers == 0 {
		c.Event.AsyncWorkers = 4
	}

	s := &c.RPC.Server
	if s.RepAddress == "" {
		s.RepAddress = rpc.DefaultRepAddress
	}
	if s.PubAddress == "" {
		s.PubAddress = rpc.DefaultPubAddress
	}
	if s.HeartbeatIntervalSec == 0 {
		s.HeartbeatIntervalSec = int(rpc.DefaultHeartbeatInterval.Seconds())
	}

	cl := &c.RPC.Client
	if cl.ReqAddress == "" {
		cl.ReqAddress = rpc.DefaultReqAddress
	}
	if cl.SubAddress == "" {
		cl.SubAddress = rpc.DefaultSubAddress
	}
	if cl.TimeoutMs == 0 {
		cl.TimeoutMs = int(rpc.DefaultTimeout.Milliseconds())
	}
	if cl.HeartbeatToleranceSec == 0 {
		cl.HeartbeatToleranceSec = int(rpc.DefaultHeartbeatTolerance.Seconds())
	}
	if cl.PollIntervalMs == 0 {
		cl.PollIntervalMs = int(rpc.DefaultPollInterval.Milliseconds())
	}
	if cl.CacheSize == 0 {
		cl.CacheSize = rpc.DefaultCacheSize
	}
	if cl.DialRetries == 0 {
		cl.DialRetries = rpc.DefaultDialRetries
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	if c.LiveServer.Port == 0 {
		c.LiveServer.Port = 8081
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	for _, check := range []func() error{
		c.validateAppConfig,
		c.validateEventConfig,
		c.validateRPCConfig,
		c.validateGateways,
		c.validateSystemConfig,
		c.validatePorts,
	} {
		if err := check(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.Role != RoleServer && c.App.Role != RoleClient {
		return ValidationError{
			Field:   "app.role",
			Value:   c.App.Role,
			Message: "must be one of: server, client",
		}
	}
	return nil
}

func (c *Config) validateEventConfig() error {
	if c.Event.TimerIntervalMs < 10 {
		return ValidationError{
			Field:   "event.timer_interval_ms",
			Value:   c.Event.TimerIntervalMs,
			Message: "must be at least 10",
		}
	}
	if c.Event.QueueCapacity < 0 {
		return ValidationError{
			Field:   "event.queue_capacity",
			Value:   c.Event.QueueCapacity,
			Message: "must not be negative",
		}
	}
	if c.Event.AsyncWorkers < 1 || c.Event.AsyncWorkers > 256 {
		return ValidationError{
			Field:   "event.async_workers",
			Value:   c.Event.AsyncWorkers,
			Message: "must be between 1 and 256",
		}
	}
	return nil
}

func (c *Config) validateRPCConfig() error {
	for field, addr := range map[string]string{
		"rpc.server.rep_address": c.RPC.Server.RepAddress,
		"rpc.server.pub_address": c.RPC.Server.PubAddress,
		"rpc.client.req_address": c.RPC.Client.ReqAddress,
		"rpc.client.sub_address": c.RPC.Client.SubAddress,
	} {
		if err := cli.ValidateEndpoint(addr); err != nil {
			return ValidationError{Field: field, Value: addr, Message: err.Error()}
		}
	}
	if c.RPC.Server.HeartbeatIntervalSec <= 0 {
		return ValidationError{
			Field:   "rpc.server.heartbeat_interval_sec",
			Value:   c.RPC.Server.HeartbeatIntervalSec,
			Message: "must be positive",
		}
	}
	if c.RPC.Client.HeartbeatToleranceSec <= c.RPC.Server.HeartbeatIntervalSec {
		return ValidationError{
			Field:   "rpc.client.heartbeat_tolerance_sec",
			Value:   c.RPC.Client.HeartbeatToleranceSec,
			Message: "must exceed rpc.server.heartbeat_interval_sec",
		}
	}
	if c.RPC.Client.TimeoutMs <= 0 {
		return ValidationError{
			Field:   "rpc.client.timeout_ms",
			Value:   c.RPC.Client.TimeoutMs,
			Message: "must be positive",
		}
	}
	if c.RPC.Client.PollIntervalMs <= 0 || c.RPC.Client.PollIntervalMs > 1000 {
		return ValidationError{
			Field:   "rpc.client.poll_interval_ms",
			Value:   c.RPC.Client.PollIntervalMs,
			Message: "must be between 1 and 1000",
		}
	}
	if c.RPC.Client.CacheSize <= 0 {
		return ValidationError{
			Field:   "rpc.client.cache_size",
			Value:   c.RPC.Client.CacheSize,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateGateways() error {
	if len(c.Gateways) == 0 {
		return ValidationError{
			Field:   "gateways",
			Message: "at least one gateway must be configured",
		}
	}

	validTypes := []string{GatewayMock, GatewayRPC}
	for _, name := range c.GatewayNames() {
		gw := c.Gateways[name]
		if !contains(validTypes, gw.Type) {
			return ValidationError{
				Field:   fmt.Sprintf("gateways.%s.type", name),
				Value:   gw.Type,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(validTypes, ", ")),
			}
		}
		if strings.Contains(name, ".") {
			return ValidationError{
				Field:   fmt.Sprintf("gateways.%s", name),
				Value:   name,
				Message: "gateway names must not contain '.'",
			}
		}
		if gw.Type == GatewayRPC && c.App.Role != RoleClient {
			return ValidationError{
				Field:   fmt.Sprintf("gateways.%s.type", name),
				Value:   gw.Type,
				Message: "rpc gateways require app.role client",
			}
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validatePorts() error {
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort < 1 || c.Telemetry.MetricsPort > 65535) {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid TCP port",
		}
	}
	if c.LiveServer.Enabled && (c.LiveServer.Port < 1 || c.LiveServer.Port > 65535) {
		return ValidationError{
			Field:   "live_server.port",
			Value:   c.LiveServer.Port,
			Message: "must be a valid TCP port",
		}
	}
	if c.LiveServer.Enabled && c.Telemetry.EnableMetrics && c.LiveServer.Port == c.Telemetry.MetricsPort {
		return ValidationError{
			Field:   "live_server.port",
			Value:   c.LiveServer.Port,
			Message: "must differ from telemetry.metrics_port",
		}
	}
	return nil
}

// GatewayNames returns the configured gateway names in sorted order
func (c *Config) GatewayNames() []string {
	names := make([]string, 0, len(c.Gateways))
	for name := range c.Gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimerInterval returns the event timer period
func (c *Config) TimerInterval() time.Duration {
	return time.Duration(c.Event.TimerIntervalMs) * time.Millisecond
}

// ServerConfig converts the rpc.server section
func (c *Config) ServerConfig() rpc.ServerConfig {
	return rpc.ServerConfig{
		RepAddress:        c.RPC.Server.RepAddress,
		PubAddress:        c.RPC.Server.PubAddress,
		HeartbeatInterval: time.Duration(c.RPC.Server.HeartbeatIntervalSec) * time.Second,
	}
}

// ClientConfig converts the rpc.client section
func (c *Config) ClientConfig(name string) rpc.ClientConfig {
	cl := c.RPC.Client
	return rpc.ClientConfig{
		Name:               name,
		ReqAddress:         cl.ReqAddress,
		SubAddress:         cl.SubAddress,
		Timeout:            time.Duration(cl.TimeoutMs) * time.Millisecond,
		HeartbeatTolerance: time.Duration(cl.HeartbeatToleranceSec) * time.Second,
		PollInterval:       time.Duration(cl.PollIntervalMs) * time.Millisecond,
		CacheSize:          cl.CacheSize,
		DialRetries:        cl.DialRetries,
	}
}

// GatewaySettings builds the connect settings of gateway name. Credentials
// are passed in clear text; rpc gateways inherit the rpc.client addresses
// unless their settings override them.
func (c *Config) GatewaySettings(name string) gateway.Settings {
	gw := c.Gateways[name]
	out := gateway.Settings{}
	if gw.Type == GatewayRPC {
		cl := c.RPC.Client
		out["req_address"] = cl.ReqAddress
		out["sub_address"] = cl.SubAddress
		out["timeout_ms"] = cl.TimeoutMs
		out["heartbeat_tolerance_sec"] = cl.HeartbeatToleranceSec
	}
	for k, v := range gw.Settings {
		out[k] = v
	}
	if gw.APIKey != "" {
		out["api_key"] = string(gw.APIKey)
	}
	if gw.SecretKey != "" {
		out["secret_key"] = string(gw.SecretKey)
	}
	if gw.Passphrase != "" {
		out["passphrase"] = string(gw.Passphrase)
	}
	return out
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Gateways = make(map[string]GatewayConfig, len(c.Gateways))
	for name, gw := range c.Gateways {
		settings := make(map[string]any, len(gw.Settings))
		for k, v := range gw.Settings {
			if isSensitiveKey(k) {
				v = maskString(fmt.Sprint(v))
			}
			settings[k] = v
		}
		gw.Settings = settings
		configCopy.Gateways[name] = gw
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for operation
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"BINANCE_API_KEY", "BINANCE_SECRET_KEY",
		"OKX_API_KEY", "OKX_SECRET_KEY", "OKX_PASSPHRASE",
		"BYBIT_API_KEY", "BYBIT_SECRET_KEY",
	}
	return contains(criticalVars, key)
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, marker := range []string{"key", "secret", "passphrase", "password", "token"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a server node with one simulated gateway
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{Name: "trade_engine", Role: RoleServer},
		Gateways: map[string]GatewayConfig{
			"MOCK": {
				Type: GatewayMock,
				Settings: map[string]any{
					"symbols":  "BTCUSDT,ETHUSDT",
					"exchange": "BINANCE",
				},
			},
		},
		LiveServer: LiveServerConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}
