package bootstrap

import (
	"trade_engine/pkg/logging"
)

// InitLogger builds the node logger from cfg and installs it as the
// global logger
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel, logging.WithServiceName(cfg.App.Name))
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
