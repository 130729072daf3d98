package event

import (
	"trade_engine/internal/core"
	"trade_engine/pkg/concurrency"
)

// Async wraps handler so each invocation runs on pool instead of the
// dispatcher. Ordering between events is no longer guaranteed; use it for
// handlers that do slow work such as network calls.
func Async(pool *concurrency.WorkerPool, handler Handler, logger core.ILogger) Handler {
	return func(ev Event) {
		if err := pool.Submit(func() { handler(ev) }); err != nil {
			logger.Warn("Dropped event for async handler", "event_type", ev.Type, "error", err)
		}
	}
}
