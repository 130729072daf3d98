package mock

import (
	"trade_engine/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewLogger returns a logger that records entries at level and above
func NewLogger(level zapcore.Level) (*logging.ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return logging.FromZap(zap.New(core)), logs
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *logging.ZapLogger { return logging.NewNop() }
