// Package core defines the interfaces shared across the trade engine
package core

import "context"

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IService is a long running component with an explicit lifecycle.
// Start must not block; Stop must release every goroutine the component owns.
type IService interface {
	Start(ctx context.Context) error
	Stop()
}

// IHealthReporter reports the liveness of a component
type IHealthReporter interface {
	IsHealthy() bool
}
