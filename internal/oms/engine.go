// Package oms keeps the last known trading state seen on the event bus
package oms

import (
	"sort"
	"sync"

	"trade_engine/internal/event"
	"trade_engine/internal/trader"
	"trade_engine/pkg/telemetry"
)

// MaxLogs is the number of log records retained
const MaxLogs = 1000

// Engine is a general event handler maintaining last-known-state tables.
// Writes happen on the dispatcher; reads clone values out of the lock.
type Engine struct {
	mu sync.RWMutex

	ticks     map[string]trader.TickData
	orders    map[string]trader.OrderData
	trades    map[string]trader.TradeData
	positions map[string]trader.PositionData
	accounts  map[string]trader.AccountData
	contracts map[string]trader.ContractData
	quotes    map[string]trader.QuoteData

	activeOrders map[string]struct{}
	activeQuotes map[string]struct{}

	// oldest first; GetLogs reverses
	logs []trader.LogData

	bus       *event.Engine
	handlerID event.HandlerID
}

// NewEngine creates empty tables
func NewEngine() *Engine {
	return &Engine{
		ticks:        make(map[string]trader.TickData),
		orders:       make(map[string]trader.OrderData),
		trades:       make(map[string]trader.TradeData),
		positions:    make(map[string]trader.PositionData),
		accounts:     make(map[string]trader.AccountData),
		contracts:    make(map[string]trader.ContractData),
		quotes:       make(map[string]trader.QuoteData),
		activeOrders: make(map[string]struct{}),
		activeQuotes: make(map[string]struct{}),
	}
}

// Attach registers the engine as a general handler on bus
func (o *Engine) Attach(bus *event.Engine) {
	o.mu.Lock()
	o.bus = bus
	o.handlerID = bus.RegisterGeneral(o.Process)
	o.mu.Unlock()

	metrics := telemetry.GetGlobalMetrics()
	metrics.RegisterTableProbe("orders", func() int64 { return int64(o.count(func() int { return len(o.orders) })) })
	metrics.RegisterTableProbe("active_orders", func() int64 { return int64(o.count(func() int { return len(o.activeOrders) })) })
	metrics.RegisterTableProbe("trades", func() int64 { return int64(o.count(func() int { return len(o.trades) })) })
	metrics.RegisterTableProbe("positions", func() int64 { return int64(o.count(func() int { return len(o.positions) })) })
	metrics.RegisterTableProbe("contracts", func() int64 { return int64(o.count(func() int { return len(o.contracts) })) })
}

// Detach removes the handler installed by Attach
func (o *Engine) Detach() {
	o.mu.Lock()
	bus, id := o.bus, o.handlerID
	o.bus = nil
	o.mu.Unlock()

	if bus != nil {
		bus.UnregisterGeneral(id)
	}
}

func (o *Engine) count(fn func() int) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return fn()
}

// Process updates the table matching the payload of ev. Other payloads
// are ignored, so the same value written twice leaves identical state.
func (o *Engine) Process(ev event.Event) {
	switch p := ev.Payload.(type) {
	case *trader.TickData:
		v := p.Clone()
		o.mu.Lock()
		o.ticks[v.VtSymbol()] = v
		o.mu.Unlock()

	case *trader.OrderData:
		v := p.Clone()
		key := v.VtOrderID()
		o.mu.Lock()
		o.orders[key] = v
		if v.IsActive() {
			o.activeOrders[key] = struct{}{}
		} else {
			delete(o.activeOrders, key)
		}
		o.mu.Unlock()

	case *trader.TradeData:
		v := p.Clone()
		o.mu.Lock()
		o.trades[v.VtTradeID()] = v
		o.mu.Unlock()

	case *trader.PositionData:
		v := p.Clone()
		o.mu.Lock()
		o.positions[v.VtPositionID()] = v
		o.mu.Unlock()

	case *trader.AccountData:
		v := p.Clone()
		o.mu.Lock()
		o.accounts[v.VtAccountID()] = v
		o.mu.Unlock()

	case *trader.ContractData:
		v := p.Clone()
		o.mu.Lock()
		o.contracts[v.VtSymbol()] = v
		o.mu.Unlock()

	case *trader.QuoteData:
		v := p.Clone()
		key := v.VtQuoteID()
		o.mu.Lock()
		o.quotes[key] = v
		if v.IsActive() {
			o.activeQuotes[key] = struct{}{}
		} else {
			delete(o.activeQuotes, key)
		}
		o.mu.Unlock()

	case *trader.LogData:
		o.mu.Lock()
		o.logs = append(o.logs, *p)
		if len(o.logs) > MaxLogs {
			n := copy(o.logs, o.logs[len(o.logs)-MaxLogs:])
			o.logs = o.logs[:n]
		}
		o.mu.Unlock()
	}
}

// GetTick returns the latest tick for vtSymbol
func (o *Engine) GetTick(vtSymbol string) (trader.TickData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.ticks[vtSymbol]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

// GetOrder returns the latest state of vtOrderID
func (o *Engine) GetOrder(vtOrderID string) (trader.OrderData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.orders[vtOrderID]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

func (o *Engine) GetTrade(vtTradeID string) (trader.TradeData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.trades[vtTradeID]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

func (o *Engine) GetPosition(vtPositionID string) (trader.PositionData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.positions[vtPositionID]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

func (o *Engine) GetAccount(vtAccountID string) (trader.AccountData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.accounts[vtAccountID]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

func (o *Engine) GetContract(vtSymbol string) (trader.ContractData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.contracts[vtSymbol]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

func (o *Engine) GetQuote(vtQuoteID string) (trader.QuoteData, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.quotes[vtQuoteID]
	if !ok {
		return v, false
	}
	return v.Clone(), true
}

type cloner[T any] interface {
	Clone() T
}

// collect clones every value of m, sorted by key for stable output
func collect[T any, P interface {
	*T
	cloner[T]
}](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		out = append(out, P(&v).Clone())
	}
	return out
}

func (o *Engine) GetAllTicks() []trader.TickData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.ticks)
}

func (o *Engine) GetAllOrders() []trader.OrderData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.orders)
}

func (o *Engine) GetAllTrades() []trader.TradeData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.trades)
}

func (o *Engine) GetAllPositions() []trader.PositionData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.positions)
}

func (o *Engine) GetAllAccounts() []trader.AccountData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.accounts)
}

func (o *Engine) GetAllContracts() []trader.ContractData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.contracts)
}

func (o *Engine) GetAllQuotes() []trader.QuoteData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return collect(o.quotes)
}

// GetAllActiveOrders returns orders in Submitting, NotTraded or PartTraded
func (o *Engine) GetAllActiveOrders() []trader.OrderData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	active := make(map[string]trader.OrderData, len(o.activeOrders))
	for k := range o.activeOrders {
		active[k] = o.orders[k]
	}
	return collect(active)
}

// GetAllActiveQuotes returns quotes that are still working
func (o *Engine) GetAllActiveQuotes() []trader.QuoteData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	active := make(map[string]trader.QuoteData, len(o.activeQuotes))
	for k := range o.activeQuotes {
		active[k] = o.quotes[k]
	}
	return collect(active)
}

// GetLogs returns retained log records, newest first
func (o *Engine) GetLogs() []trader.LogData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]trader.LogData, len(o.logs))
	for i, l := range o.logs {
		out[len(o.logs)-1-i] = l
	}
	return out
}
