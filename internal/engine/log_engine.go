package engine

import (
	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/trader"
)

// LogEngine forwards eLog events to the process logger
type LogEngine struct {
	logger core.ILogger
	bus    *event.Engine
	id     event.HandlerID
}

// NewLogEngine registers the forwarder on bus
func NewLogEngine(bus *event.Engine, logger core.ILogger) *LogEngine {
	le := &LogEngine{logger: logger.WithField("component", "log_engine"), bus: bus}
	le.id = bus.Register(event.TypeLog, le.process)
	return le
}

// Close removes the handler
func (le *LogEngine) Close() {
	le.bus.Unregister(event.TypeLog, le.id)
}

func (le *LogEngine) process(ev event.Event) {
	log, ok := ev.Payload.(*trader.LogData)
	if !ok {
		return
	}

	l := le.logger.WithField("gateway", log.GatewayName)
	switch {
	case log.Level >= trader.LogLevelError:
		l.Error(log.Msg)
	case log.Level >= trader.LogLevelWarning:
		l.Warn(log.Msg)
	case log.Level >= trader.LogLevelInfo:
		l.Info(log.Msg)
	default:
		l.Debug(log.Msg)
	}
}
