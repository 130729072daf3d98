// Package gateway defines the contract between exchange adapters and the
// event engine.
package gateway

import (
	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/trader"
)

// EventAdapter turns gateway callbacks into engine events. Subject-scoped
// events are put before the matching firehose event.
type EventAdapter struct {
	name   string
	sink   event.Sink
	logger core.ILogger
}

// NewEventAdapter creates an adapter tagging events with gatewayName
func NewEventAdapter(gatewayName string, sink event.Sink, logger core.ILogger) *EventAdapter {
	return &EventAdapter{
		name:   gatewayName,
		sink:   sink,
		logger: logger.WithField("gateway", gatewayName),
	}
}

// GatewayName returns the originator tag
func (a *EventAdapter) GatewayName() string {
	return a.name
}

func (a *EventAdapter) put(eventType string, payload event.Payload) {
	if err := a.sink.Put(event.New(eventType, payload)); err != nil {
		a.logger.Warn("Failed to put gateway event", "event_type", eventType, "error", err)
	}
}

func (a *EventAdapter) putPair(prefix, subject string, payload event.Payload) {
	a.put(prefix+subject, payload)
	a.put(prefix, payload)
}

// OnTick emits eTick.<vt_symbol> then eTick.
func (a *EventAdapter) OnTick(tick *trader.TickData) {
	a.putPair(event.TypeTick, tick.VtSymbol(), tick)
}

// OnTrade emits eTrade.<vt_symbol> then eTrade.
func (a *EventAdapter) OnTrade(trade *trader.TradeData) {
	a.putPair(event.TypeTrade, trade.VtSymbol(), trade)
}

// OnOrder emits eOrder.<vt_orderid> then eOrder.
func (a *EventAdapter) OnOrder(order *trader.OrderData) {
	a.putPair(event.TypeOrder, order.VtOrderID(), order)
}

// OnPosition emits ePosition.<vt_symbol> then ePosition.
func (a *EventAdapter) OnPosition(position *trader.PositionData) {
	a.putPair(event.TypePosition, position.VtSymbol(), position)
}

// OnAccount emits eAccount.<vt_accountid> then eAccount.
func (a *EventAdapter) OnAccount(account *trader.AccountData) {
	a.putPair(event.TypeAccount, account.VtAccountID(), account)
}

// OnQuote emits eQuote.<vt_symbol> then eQuote.
func (a *EventAdapter) OnQuote(quote *trader.QuoteData) {
	a.putPair(event.TypeQuote, quote.VtSymbol(), quote)
}

// OnContract emits eContract. only
func (a *EventAdapter) OnContract(contract *trader.ContractData) {
	a.put(event.TypeContract, contract)
}

// OnLog emits eLog only
func (a *EventAdapter) OnLog(log *trader.LogData) {
	a.put(event.TypeLog, log)
}

// WriteLog emits an INFO log record tagged with the gateway name
func (a *EventAdapter) WriteLog(msg string) {
	a.OnLog(trader.NewLogData(a.name, msg))
}
