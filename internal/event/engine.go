package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trade_engine/internal/core"
	"trade_engine/pkg/concurrency"
	apperrors "trade_engine/pkg/errors"
	"trade_engine/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultInterval between two timer events
	DefaultInterval = time.Second
	// pollTimeout bounds how long the dispatcher blocks on an empty queue
	pollTimeout = 100 * time.Millisecond
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Handler consumes events on the dispatcher goroutine. Handlers must not
// block on network I/O.
type Handler func(Event)

// HandlerID identifies one registration; ids are never reused by an engine
type HandlerID uint64

type registration struct {
	id      HandlerID
	handler Handler
}

// Option customises an Engine
type Option func(*Engine)

// WithQueueCapacity bounds the queue; Put blocks while it is full
func WithQueueCapacity(capacity int) Option {
	return func(e *Engine) { e.capacity = capacity }
}

// WithName labels the engine in logs and metrics
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// Engine dispatches queued events to registered handlers
type Engine struct {
	name     string
	interval time.Duration
	capacity int
	queue    *concurrency.Queue[Event]
	logger   core.ILogger

	// Handler slices are copy-on-write: a dispatch snapshot is never mutated.
	mu      sync.Mutex
	typed   map[string][]registration
	general []registration
	lastID  atomic.Uint64

	state  atomic.Int32
	stopCh chan struct{}
	wg     sync.WaitGroup

	dispatched metric.Int64Counter
	panics     metric.Int64Counter
}

// NewEngine creates an inactive engine emitting a timer event every interval
func NewEngine(interval time.Duration, logger core.ILogger, opts ...Option) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}

	e := &Engine{
		name:     "main",
		interval: interval,
		typed:    make(map[string][]registration),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = concurrency.NewQueue[Event](e.capacity)
	e.logger = logger.WithField("component", "event_engine").WithField("engine", e.name)

	meter := telemetry.GetMeter("event-engine")
	e.dispatched, _ = meter.Int64Counter(telemetry.MetricEventsDispatchedTotal,
		metric.WithDescription("Events dispatched to handlers"))
	e.panics, _ = meter.Int64Counter(telemetry.MetricHandlerPanicsTotal,
		metric.WithDescription("Handler invocations that panicked"))

	return e
}

// Start spawns the dispatcher and timer goroutines
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(stateIdle, stateRunning) {
		if e.state.Load() == stateStopped {
			return apperrors.ErrEngineStopped
		}
		return apperrors.ErrEngineAlreadyStarted
	}

	telemetry.GetGlobalMetrics().RegisterQueueProbe(e.name, func() int64 {
		return int64(e.queue.Len())
	})

	e.wg.Add(2)
	go e.run()
	go e.runTimer()

	e.logger.Info("Event engine started", "interval", e.interval.String())
	return nil
}

// Stop rejects new events, lets the dispatcher drain what is already
// queued and waits for both goroutines. The engine cannot be restarted.
// Stop must not be called from a handler.
func (e *Engine) Stop() {
	prev := e.state.Swap(stateStopped)
	if prev == stateStopped {
		return
	}

	close(e.stopCh)
	e.queue.Close()
	e.wg.Wait()

	telemetry.GetGlobalMetrics().UnregisterQueueProbe(e.name)
	if prev == stateRunning {
		e.logger.Info("Event engine stopped")
	}
}

// Active reports whether the engine is dispatching
func (e *Engine) Active() bool {
	return e.state.Load() == stateRunning
}

// Put enqueues an event. It fails only after Stop.
func (e *Engine) Put(ev Event) error {
	if err := e.queue.Push(ev); err != nil {
		return fmt.Errorf("put %s: %w", ev.Type, apperrors.ErrEngineStopped)
	}
	return nil
}

// Pending returns the number of queued events
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Sender returns a producer handle that can be passed to any goroutine
func (e *Engine) Sender() Sender {
	return Sender{engine: e}
}

// Register appends handler to the list for eventType
func (e *Engine) Register(eventType string, handler Handler) HandlerID {
	id := HandlerID(e.lastID.Add(1))

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.typed[eventType]
	next := make([]registration, len(current), len(current)+1)
	copy(next, current)
	e.typed[eventType] = append(next, registration{id: id, handler: handler})
	return id
}

// Unregister removes the registration id from eventType. Unknown ids are ignored.
func (e *Engine) Unregister(eventType string, id HandlerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.typed[eventType]
	if !ok {
		return
	}
	next, removed := without(current, id)
	if !removed {
		return
	}
	if len(next) == 0 {
		delete(e.typed, eventType)
		return
	}
	e.typed[eventType] = next
}

// RegisterGeneral adds a handler invoked for every event after the typed handlers
func (e *Engine) RegisterGeneral(handler Handler) HandlerID {
	id := HandlerID(e.lastID.Add(1))

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]registration, len(e.general), len(e.general)+1)
	copy(next, e.general)
	e.general = append(next, registration{id: id, handler: handler})
	return id
}

// UnregisterGeneral removes a general handler. Unknown ids are ignored.
func (e *Engine) UnregisterGeneral(id HandlerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if next, removed := without(e.general, id); removed {
		e.general = next
	}
}

// HandlerCount returns how many handlers are registered for eventType
func (e *Engine) HandlerCount(eventType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.typed[eventType])
}

func without(list []registration, id HandlerID) ([]registration, bool) {
	for i, r := range list {
		if r.id == id {
			next := make([]registration, 0, len(list)-1)
			next = append(next, list[:i]...)
			return append(next, list[i+1:]...), true
		}
	}
	return list, false
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		ev, ok := e.queue.Pop(pollTimeout)
		if ok {
			e.dispatch(ev)
			continue
		}
		if e.queue.Closed() && e.queue.Len() == 0 {
			return
		}
	}
}

func (e *Engine) dispatch(ev Event) {
	e.mu.Lock()
	typed := e.typed[ev.Type]
	general := e.general
	e.mu.Unlock()

	for _, r := range typed {
		e.invoke(r, ev)
	}
	for _, r := range general {
		e.invoke(r, ev)
	}

	e.dispatched.Add(context.Background(), 1, metric.WithAttributes(attribute.String("prefix", metricPrefix(ev.Type))))
}

func (e *Engine) invoke(r registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			e.panics.Add(context.Background(), 1)
			e.logger.Error("Event handler panicked",
				"event_type", ev.Type,
				"handler_id", uint64(r.id),
				"panic", fmt.Sprint(p))
		}
	}()
	r.handler(ev)
}

func (e *Engine) runTimer() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.Put(New(TypeTimer, Opaque{})); err != nil {
				return
			}
		}
	}
}

func metricPrefix(eventType string) string {
	if p := Prefix(eventType); p != "" {
		return p
	}
	return "custom"
}

// Sender is a lightweight producer endpoint for an Engine
type Sender struct {
	engine *Engine
}

// Put enqueues ev on the owning engine
func (s Sender) Put(ev Event) error {
	if s.engine == nil {
		return apperrors.ErrEngineStopped
	}
	return s.engine.Put(ev)
}
