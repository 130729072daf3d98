package trader

import (
	"fmt"
	"maps"
	"time"

	"trade_engine/internal/event"

	"github.com/shopspring/decimal"
)

// DepthLevels is the number of book levels carried on a tick
const DepthLevels = 5

// VtSymbol joins symbol and exchange as "symbol.exchange"
func VtSymbol(symbol string, exchange Exchange) string {
	return symbol + "." + string(exchange)
}

func vtID(gatewayName, id string) string {
	return gatewayName + "." + id
}

// TickData is a market data snapshot for one instrument
type TickData struct {
	GatewayName string    `json:"gateway_name"`
	Symbol      string    `json:"symbol"`
	Exchange    Exchange  `json:"exchange"`
	Datetime    time.Time `json:"datetime"`

	Name         string          `json:"name,omitempty"`
	Volume       decimal.Decimal `json:"volume"`
	Turnover     decimal.Decimal `json:"turnover"`
	OpenInterest decimal.Decimal `json:"open_interest"`
	LastPrice    decimal.Decimal `json:"last_price"`
	LastVolume   decimal.Decimal `json:"last_volume"`
	LimitUp      decimal.Decimal `json:"limit_up"`
	LimitDown    decimal.Decimal `json:"limit_down"`

	OpenPrice decimal.Decimal `json:"open_price"`
	HighPrice decimal.Decimal `json:"high_price"`
	LowPrice  decimal.Decimal `json:"low_price"`
	PreClose  decimal.Decimal `json:"pre_close"`

	BidPrice  [DepthLevels]decimal.Decimal `json:"bid_price"`
	AskPrice  [DepthLevels]decimal.Decimal `json:"ask_price"`
	BidVolume [DepthLevels]decimal.Decimal `json:"bid_volume"`
	AskVolume [DepthLevels]decimal.Decimal `json:"ask_volume"`

	LocalTime *time.Time        `json:"localtime,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

func (t *TickData) PayloadKind() event.Kind { return event.KindTick }

func (t *TickData) VtSymbol() string { return VtSymbol(t.Symbol, t.Exchange) }

// Clone returns a deep copy safe to hand to another goroutine
func (t *TickData) Clone() TickData {
	c := *t
	c.Extra = maps.Clone(t.Extra)
	if t.LocalTime != nil {
		lt := *t.LocalTime
		c.LocalTime = &lt
	}
	return c
}

// OrderData tracks the latest state of one order
type OrderData struct {
	GatewayName string   `json:"gateway_name"`
	Symbol      string   `json:"symbol"`
	Exchange    Exchange `json:"exchange"`
	OrderID     string   `json:"orderid"`

	Type      OrderType       `json:"type"`
	Direction Direction       `json:"direction,omitempty"`
	Offset    Offset          `json:"offset"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Traded    decimal.Decimal `json:"traded"`
	Status    Status          `json:"status"`
	Datetime  *time.Time      `json:"datetime,omitempty"`
	Reference string          `json:"reference,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (o *OrderData) PayloadKind() event.Kind { return event.KindOrder }

func (o *OrderData) VtSymbol() string { return VtSymbol(o.Symbol, o.Exchange) }

func (o *OrderData) VtOrderID() string { return vtID(o.GatewayName, o.OrderID) }

// IsActive reports whether the order can still trade
func (o *OrderData) IsActive() bool { return o.Status.IsActive() }

// CreateCancelRequest builds the request that cancels this order
func (o *OrderData) CreateCancelRequest() CancelRequest {
	return CancelRequest{OrderID: o.OrderID, Symbol: o.Symbol, Exchange: o.Exchange}
}

func (o *OrderData) Clone() OrderData {
	c := *o
	c.Extra = maps.Clone(o.Extra)
	c.Datetime = cloneTime(o.Datetime)
	return c
}

// TradeData is a single fill
type TradeData struct {
	GatewayName string   `json:"gateway_name"`
	Symbol      string   `json:"symbol"`
	Exchange    Exchange `json:"exchange"`
	OrderID     string   `json:"orderid"`
	TradeID     string   `json:"tradeid"`

	Direction Direction       `json:"direction,omitempty"`
	Offset    Offset          `json:"offset"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Datetime  *time.Time      `json:"datetime,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (t *TradeData) PayloadKind() event.Kind { return event.KindTrade }

func (t *TradeData) VtSymbol() string { return VtSymbol(t.Symbol, t.Exchange) }

func (t *TradeData) VtOrderID() string { return vtID(t.GatewayName, t.OrderID) }

func (t *TradeData) VtTradeID() string { return vtID(t.GatewayName, t.TradeID) }

func (t *TradeData) Clone() TradeData {
	c := *t
	c.Extra = maps.Clone(t.Extra)
	c.Datetime = cloneTime(t.Datetime)
	return c
}

// PositionData is the holding in one instrument and direction
type PositionData struct {
	GatewayName string    `json:"gateway_name"`
	Symbol      string    `json:"symbol"`
	Exchange    Exchange  `json:"exchange"`
	Direction   Direction `json:"direction"`

	Volume   decimal.Decimal `json:"volume"`
	Frozen   decimal.Decimal `json:"frozen"`
	Price    decimal.Decimal `json:"price"`
	PnL      decimal.Decimal `json:"pnl"`
	YdVolume decimal.Decimal `json:"yd_volume"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (p *PositionData) PayloadKind() event.Kind { return event.KindPosition }

func (p *PositionData) VtSymbol() string { return VtSymbol(p.Symbol, p.Exchange) }

// VtPositionID is "gateway.vt_symbol.direction"
func (p *PositionData) VtPositionID() string {
	return fmt.Sprintf("%s.%s.%s", p.GatewayName, p.VtSymbol(), p.Direction)
}

func (p *PositionData) Clone() PositionData {
	c := *p
	c.Extra = maps.Clone(p.Extra)
	return c
}

// AccountData is the balance of one account
type AccountData struct {
	GatewayName string `json:"gateway_name"`
	AccountID   string `json:"accountid"`

	Balance decimal.Decimal `json:"balance"`
	Frozen  decimal.Decimal `json:"frozen"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (a *AccountData) PayloadKind() event.Kind { return event.KindAccount }

func (a *AccountData) VtAccountID() string { return vtID(a.GatewayName, a.AccountID) }

// Available is balance minus frozen funds
func (a *AccountData) Available() decimal.Decimal { return a.Balance.Sub(a.Frozen) }

func (a *AccountData) Clone() AccountData {
	c := *a
	c.Extra = maps.Clone(a.Extra)
	return c
}

// QuoteData tracks a two-sided quote
type QuoteData struct {
	GatewayName string   `json:"gateway_name"`
	Symbol      string   `json:"symbol"`
	Exchange    Exchange `json:"exchange"`
	QuoteID     string   `json:"quoteid"`

	BidPrice  decimal.Decimal `json:"bid_price"`
	BidVolume int64           `json:"bid_volume"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskVolume int64           `json:"ask_volume"`
	BidOffset Offset          `json:"bid_offset"`
	AskOffset Offset          `json:"ask_offset"`
	Status    Status          `json:"status"`
	Datetime  *time.Time      `json:"datetime,omitempty"`
	Reference string          `json:"reference,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (q *QuoteData) PayloadKind() event.Kind { return event.KindQuote }

func (q *QuoteData) VtSymbol() string { return VtSymbol(q.Symbol, q.Exchange) }

func (q *QuoteData) VtQuoteID() string { return vtID(q.GatewayName, q.QuoteID) }

// IsActive reports whether the quote is still working
func (q *QuoteData) IsActive() bool { return q.Status.IsActive() }

// CreateCancelRequest builds the request that cancels this quote
func (q *QuoteData) CreateCancelRequest() CancelRequest {
	return CancelRequest{OrderID: q.QuoteID, Symbol: q.Symbol, Exchange: q.Exchange}
}

func (q *QuoteData) Clone() QuoteData {
	c := *q
	c.Extra = maps.Clone(q.Extra)
	c.Datetime = cloneTime(q.Datetime)
	return c
}

// ContractData describes a tradable instrument
type ContractData struct {
	GatewayName string          `json:"gateway_name"`
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Name        string          `json:"name"`
	Product     Product         `json:"product"`
	Size        decimal.Decimal `json:"size"`
	PriceTick   decimal.Decimal `json:"pricetick"`

	MinVolume     decimal.Decimal  `json:"min_volume"`
	MaxVolume     *decimal.Decimal `json:"max_volume,omitempty"`
	StopSupported bool             `json:"stop_supported"`
	NetPosition   bool             `json:"net_position"`
	HistoryData   bool             `json:"history_data"`

	Extra map[string]string `json:"extra,omitempty"`
}

func (c *ContractData) PayloadKind() event.Kind { return event.KindContract }

func (c *ContractData) VtSymbol() string { return VtSymbol(c.Symbol, c.Exchange) }

func (c *ContractData) Clone() ContractData {
	cp := *c
	cp.Extra = maps.Clone(c.Extra)
	if c.MaxVolume != nil {
		mv := *c.MaxVolume
		cp.MaxVolume = &mv
	}
	return cp
}

// LogData is a log line raised by a gateway or engine component
type LogData struct {
	GatewayName string    `json:"gateway_name"`
	Msg         string    `json:"msg"`
	Level       LogLevel  `json:"level"`
	Time        time.Time `json:"time"`
}

// NewLogData creates an INFO record stamped with the current time
func NewLogData(gatewayName, msg string) *LogData {
	return &LogData{GatewayName: gatewayName, Msg: msg, Level: LogLevelInfo, Time: time.Now()}
}

func (l *LogData) PayloadKind() event.Kind { return event.KindLog }

// SubscribeRequest asks a gateway for market data on one instrument
type SubscribeRequest struct {
	Symbol   string   `json:"symbol"`
	Exchange Exchange `json:"exchange"`
}

func (r SubscribeRequest) VtSymbol() string { return VtSymbol(r.Symbol, r.Exchange) }

// OrderRequest asks a gateway to place an order
type OrderRequest struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Direction Direction       `json:"direction"`
	Type      OrderType       `json:"type"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	Offset    Offset          `json:"offset"`
	Reference string          `json:"reference,omitempty"`
}

func (r OrderRequest) VtSymbol() string { return VtSymbol(r.Symbol, r.Exchange) }

// CreateOrderData builds the order record a gateway reports after accepting r
func (r OrderRequest) CreateOrderData(orderID, gatewayName string) *OrderData {
	return &OrderData{
		GatewayName: gatewayName,
		Symbol:      r.Symbol,
		Exchange:    r.Exchange,
		OrderID:     orderID,
		Type:        r.Type,
		Direction:   r.Direction,
		Offset:      r.Offset,
		Price:       r.Price,
		Volume:      r.Volume,
		Status:      StatusSubmitting,
		Reference:   r.Reference,
	}
}

// CancelRequest asks a gateway to cancel an order or quote
type CancelRequest struct {
	OrderID  string   `json:"orderid"`
	Symbol   string   `json:"symbol"`
	Exchange Exchange `json:"exchange"`
}

func (r CancelRequest) VtSymbol() string { return VtSymbol(r.Symbol, r.Exchange) }

// QuoteRequest asks a gateway to place a two-sided quote
type QuoteRequest struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidVolume int64           `json:"bid_volume"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskVolume int64           `json:"ask_volume"`
	BidOffset Offset          `json:"bid_offset"`
	AskOffset Offset          `json:"ask_offset"`
	Reference string          `json:"reference,omitempty"`
}

func (r QuoteRequest) VtSymbol() string { return VtSymbol(r.Symbol, r.Exchange) }

// CreateQuoteData builds the quote record a gateway reports after accepting r
func (r QuoteRequest) CreateQuoteData(quoteID, gatewayName string) *QuoteData {
	return &QuoteData{
		GatewayName: gatewayName,
		Symbol:      r.Symbol,
		Exchange:    r.Exchange,
		QuoteID:     quoteID,
		BidPrice:    r.BidPrice,
		BidVolume:   r.BidVolume,
		AskPrice:    r.AskPrice,
		AskVolume:   r.AskVolume,
		BidOffset:   r.BidOffset,
		AskOffset:   r.AskOffset,
		Status:      StatusSubmitting,
		Reference:   r.Reference,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
