package bootstrap

import (
	"fmt"

	"trade_engine/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the config loader and adds pre-flight checks
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := CheckPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// CheckPreFlight verifies that the role and the gateways make a usable
// node, beyond what schema validation covers
func CheckPreFlight(cfg *Config) error {
	if len(cfg.Gateways) == 0 {
		return fmt.Errorf("no gateways configured")
	}
	if cfg.App.Role != config.RoleClient {
		return nil
	}
	for _, name := range cfg.GatewayNames() {
		if cfg.Gateways[name].Type == config.GatewayRPC {
			return nil
		}
	}
	return fmt.Errorf("role %q needs at least one %q gateway", config.RoleClient, config.GatewayRPC)
}
