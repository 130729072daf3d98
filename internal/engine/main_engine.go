// Package engine wires the event bus, gateways and registries into a
// trading node.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/gateway"
	"trade_engine/internal/oms"
	"trade_engine/internal/trader"
	"trade_engine/pkg/concurrency"
	apperrors "trade_engine/pkg/errors"
)

// SourceMainEngine tags log records written by the engine itself
const SourceMainEngine = "MAIN_ENGINE"

// MainEngine owns the event engine, the OMS and the registered gateways
// and routes requests to gateways by name.
type MainEngine struct {
	events *event.Engine
	oms    *oms.Engine
	logs   *LogEngine
	pool   *concurrency.WorkerPool
	logger core.ILogger

	mu       sync.RWMutex
	gateways map[string]gateway.Gateway
	closed   bool
}

// NewMainEngine attaches the OMS and log forwarding to events and starts it
// if it is not running yet
func NewMainEngine(events *event.Engine, logger core.ILogger) (*MainEngine, error) {
	m := &MainEngine{
		events:   events,
		oms:      oms.NewEngine(),
		pool:     concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "main_engine", MaxWorkers: 8, MaxCapacity: 64}, logger),
		logger:   logger.WithField("component", "main_engine"),
		gateways: make(map[string]gateway.Gateway),
	}
	m.oms.Attach(events)
	m.logs = NewLogEngine(events, logger)

	if !events.Active() {
		if err := events.Start(); err != nil {
			m.pool.Stop()
			return nil, fmt.Errorf("start event engine: %w", err)
		}
	}
	return m, nil
}

// Events returns the event engine
func (m *MainEngine) Events() *event.Engine { return m.events }

// OMS returns the registries
func (m *MainEngine) OMS() *oms.Engine { return m.oms }

// AddGateway registers g under its name
func (m *MainEngine) AddGateway(g gateway.Gateway) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gateways[g.Name()]; exists {
		return fmt.Errorf("add gateway %s: %w", g.Name(), apperrors.ErrDuplicateGateway)
	}
	m.gateways[g.Name()] = g
	m.logger.Info("Gateway added", "gateway", g.Name())
	return nil
}

// GetGateway returns the gateway registered under name
func (m *MainEngine) GetGateway(name string) (gateway.Gateway, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, apperrors.ErrGatewayNotFound)
	}
	return g, nil
}

// GatewayNames returns the sorted names of registered gateways
func (m *MainEngine) GatewayNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exchanges returns every exchange served by a registered gateway
func (m *MainEngine) Exchanges() []trader.Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[trader.Exchange]bool)
	var out []trader.Exchange
	for _, g := range m.gateways {
		for _, ex := range g.Exchanges() {
			if !seen[ex] {
				seen[ex] = true
				out = append(out, ex)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Connect connects one gateway
func (m *MainEngine) Connect(ctx context.Context, setting gateway.Settings, gatewayName string) error {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return err
	}
	if err := g.Connect(ctx, setting); err != nil {
		return fmt.Errorf("connect %s: %w", gatewayName, err)
	}
	return nil
}

// ConnectAll connects the named gateways concurrently
func (m *MainEngine) ConnectAll(ctx context.Context, settings map[string]gateway.Settings) error {
	tasks := make([]func(context.Context) error, 0, len(settings))
	for name, setting := range settings {
		name, setting := name, setting
		tasks = append(tasks, func(ctx context.Context) error {
			return m.Connect(ctx, setting, name)
		})
	}
	return m.pool.RunAll(ctx, tasks...)
}

// Subscribe routes a market data subscription
func (m *MainEngine) Subscribe(ctx context.Context, req trader.SubscribeRequest, gatewayName string) error {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return err
	}
	return g.Subscribe(ctx, req)
}

// SendOrder routes an order and returns its vt_orderid
func (m *MainEngine) SendOrder(ctx context.Context, req trader.OrderRequest, gatewayName string) (string, error) {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return "", err
	}
	return g.SendOrder(ctx, req)
}

// CancelOrder routes a cancel request
func (m *MainEngine) CancelOrder(ctx context.Context, req trader.CancelRequest, gatewayName string) error {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return err
	}
	return g.CancelOrder(ctx, req)
}

// SendQuote routes a quote and returns its vt_quoteid
func (m *MainEngine) SendQuote(ctx context.Context, req trader.QuoteRequest, gatewayName string) (string, error) {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return "", err
	}
	return g.SendQuote(ctx, req)
}

// CancelQuote routes a quote cancel request
func (m *MainEngine) CancelQuote(ctx context.Context, req trader.CancelRequest, gatewayName string) error {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return err
	}
	return g.CancelQuote(ctx, req)
}

// QueryAccount asks a gateway to republish its accounts
func (m *MainEngine) QueryAccount(ctx context.Context, gatewayName string) error {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return err
	}
	return g.QueryAccount(ctx)
}

// QueryPosition asks a gateway to republish its positions
func (m *MainEngine) QueryPosition(ctx context.Context, gatewayName string) error {
	g, err := m.GetGateway(gatewayName)
	if err != nil {
		return err
	}
	return g.QueryPosition(ctx)
}

// WriteLog puts an INFO log event tagged with source
func (m *MainEngine) WriteLog(msg, source string) {
	if source == "" {
		source = SourceMainEngine
	}
	if err := m.events.Put(event.New(event.TypeLog, trader.NewLogData(source, msg))); err != nil {
		m.logger.Debug("Log event dropped", "msg", msg, "error", err)
	}
}

// Close closes every gateway concurrently, then stops the event engine
func (m *MainEngine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	gateways := make([]gateway.Gateway, 0, len(m.gateways))
	for _, g := range m.gateways {
		gateways = append(gateways, g)
	}
	m.mu.Unlock()

	tasks := make([]func(context.Context) error, 0, len(gateways))
	for _, g := range gateways {
		g := g
		tasks = append(tasks, func(context.Context) error {
			if err := g.Close(); err != nil {
				return fmt.Errorf("close %s: %w", g.Name(), err)
			}
			return nil
		})
	}
	err := m.pool.RunAll(context.Background(), tasks...)

	m.events.Stop()
	m.logs.Close()
	m.oms.Detach()
	m.pool.Stop()
	return err
}
