package mock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/gateway"
	"trade_engine/internal/trader"
	apperrors "trade_engine/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is an in-memory exchange. Orders rest until Fill or CancelOrder;
// market orders fill immediately at the last pushed price.
type Gateway struct {
	*gateway.BaseGateway

	mu         sync.Mutex
	connected  bool
	accountID  string
	balance    decimal.Decimal
	contracts  map[string]*trader.ContractData
	subscribed map[string]bool
	lastPrice  map[string]decimal.Decimal
	orders     map[string]*trader.OrderData
	references map[string]string
	quotes     map[string]*trader.QuoteData
	positions  map[string]*trader.PositionData
	orderIDSeq int64
	quoteIDSeq int64
}

// NewGateway creates a disconnected simulated gateway
func NewGateway(name string, sink event.Sink, logger core.ILogger) *Gateway {
	return &Gateway{
		BaseGateway: gateway.NewBaseGateway(name, []trader.Exchange{trader.ExchangeLocal, trader.ExchangeBinance}, sink, logger),
		contracts:   make(map[string]*trader.ContractData),
		subscribed:  make(map[string]bool),
		lastPrice:   make(map[string]decimal.Decimal),
		orders:      make(map[string]*trader.OrderData),
		references:  make(map[string]string),
		quotes:      make(map[string]*trader.QuoteData),
		positions:   make(map[string]*trader.PositionData),
		orderIDSeq:  1000,
	}
}

// DefaultSetting lists the accepted connection settings
func (g *Gateway) DefaultSetting() gateway.Settings {
	return gateway.Settings{
		"symbols":    "BTCUSDT,ETHUSDT",
		"exchange":   string(trader.ExchangeBinance),
		"account_id": "USDT",
		"balance":    10000,
	}
}

// Connect publishes contracts, the account and empty positions
func (g *Gateway) Connect(ctx context.Context, setting gateway.Settings) error {
	def := g.DefaultSetting()
	symbols := strings.Split(setting.String("symbols", def.String("symbols", "")), ",")
	exchange := trader.Exchange(setting.String("exchange", def.String("exchange", "")))

	g.mu.Lock()
	g.connected = true
	g.accountID = setting.String("account_id", "USDT")
	g.balance = decimal.NewFromInt(int64(setting.Int("balance", 10000)))

	contracts := make([]*trader.ContractData, 0, len(symbols))
	positions := make([]*trader.PositionData, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		c := &trader.ContractData{
			GatewayName: g.Name(),
			Symbol:      s,
			Exchange:    exchange,
			Name:        s,
			Product:     trader.ProductSpot,
			Size:        decimal.NewFromInt(1),
			PriceTick:   decimal.RequireFromString("0.01"),
			MinVolume:   decimal.RequireFromString("0.001"),
			NetPosition: true,
		}
		g.contracts[c.VtSymbol()] = c
		contracts = append(contracts, c)

		p := g.positionLocked(s, exchange)
		positions = append(positions, clonePosition(p))
	}
	account := g.accountLocked()
	g.mu.Unlock()

	for _, c := range contracts {
		g.OnContract(c)
	}
	g.OnAccount(account)
	for _, p := range positions {
		g.OnPosition(p)
	}
	g.WriteLog(fmt.Sprintf("connected with %d contracts", len(contracts)))
	return nil
}

// Close disconnects the gateway
func (g *Gateway) Close() error {
	g.mu.Lock()
	wasConnected := g.connected
	g.connected = false
	g.mu.Unlock()

	if wasConnected {
		g.WriteLog("disconnected")
	}
	return nil
}

// Connected reports the connection state
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Subscribe enables ticks for a listed contract
func (g *Gateway) Subscribe(ctx context.Context, req trader.SubscribeRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return apperrors.ErrNotConnected
	}
	if _, ok := g.contracts[req.VtSymbol()]; !ok {
		return fmt.Errorf("subscribe %s: %w", req.VtSymbol(), apperrors.ErrContractNotFound)
	}
	g.subscribed[req.VtSymbol()] = true
	return nil
}

// PushTick simulates a trade print; it is dropped unless subscribed
func (g *Gateway) PushTick(symbol string, exchange trader.Exchange, price decimal.Decimal) bool {
	vt := trader.VtSymbol(symbol, exchange)

	g.mu.Lock()
	if !g.subscribed[vt] {
		g.mu.Unlock()
		return false
	}
	g.lastPrice[vt] = price
	g.mu.Unlock()

	now := time.Now()
	tick := &trader.TickData{
		GatewayName: g.Name(),
		Symbol:      symbol,
		Exchange:    exchange,
		Datetime:    now,
		LastPrice:   price,
		LastVolume:  decimal.NewFromInt(1),
		LocalTime:   &now,
	}
	spread := price.Mul(decimal.RequireFromString("0.0001"))
	for i := 0; i < trader.DepthLevels; i++ {
		step := spread.Mul(decimal.NewFromInt(int64(i + 1)))
		tick.BidPrice[i] = price.Sub(step)
		tick.AskPrice[i] = price.Add(step)
		tick.BidVolume[i] = decimal.NewFromInt(int64(10 * (i + 1)))
		tick.AskVolume[i] = decimal.NewFromInt(int64(10 * (i + 1)))
	}
	g.OnTick(tick)
	return true
}

// SendOrder accepts an order. A repeated non-empty reference returns the
// vt_orderid of the first order instead of creating a new one.
func (g *Gateway) SendOrder(ctx context.Context, req trader.OrderRequest) (string, error) {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return "", apperrors.ErrNotConnected
	}
	if req.Reference != "" {
		if vt, ok := g.references[req.Reference]; ok {
			g.mu.Unlock()
			return vt, nil
		}
	}
	if _, ok := g.contracts[req.VtSymbol()]; !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("send order %s: %w", req.VtSymbol(), apperrors.ErrContractNotFound)
	}
	if !req.Volume.IsPositive() {
		g.mu.Unlock()
		return "", fmt.Errorf("send order volume %s: %w", req.Volume, apperrors.ErrInvalidArgument)
	}

	g.orderIDSeq++
	order := req.CreateOrderData(strconv.FormatInt(g.orderIDSeq, 10), g.Name())
	now := time.Now()
	order.Datetime = &now
	vtOrderID := order.VtOrderID()
	g.orders[order.OrderID] = order
	if req.Reference != "" {
		g.references[req.Reference] = vtOrderID
	}
	submitting := cloneOrder(order)
	order.Status = trader.StatusNotTraded
	accepted := cloneOrder(order)
	price, hasPrice := g.lastPrice[req.VtSymbol()]
	g.mu.Unlock()

	g.OnOrder(submitting)
	g.OnOrder(accepted)

	if req.Type == trader.OrderTypeMarket {
		if !hasPrice {
			price = req.Price
		}
		if err := g.fill(order.OrderID, req.Volume, price); err != nil {
			return vtOrderID, err
		}
	}
	return vtOrderID, nil
}

// Fill executes volume of an open order at price
func (g *Gateway) Fill(orderID string, volume, price decimal.Decimal) error {
	return g.fill(orderID, volume, price)
}

func (g *Gateway) fill(orderID string, volume, price decimal.Decimal) error {
	g.mu.Lock()
	order, ok := g.orders[orderID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("fill %s: %w", orderID, apperrors.ErrOrderNotFound)
	}
	if !order.IsActive() {
		g.mu.Unlock()
		return fmt.Errorf("fill %s in status %s: %w", orderID, order.Status, apperrors.ErrInvalidArgument)
	}

	remaining := order.Volume.Sub(order.Traded)
	if volume.GreaterThan(remaining) {
		volume = remaining
	}
	order.Traded = order.Traded.Add(volume)
	if order.Traded.Equal(order.Volume) {
		order.Status = trader.StatusAllTraded
	} else {
		order.Status = trader.StatusPartTraded
	}

	now := time.Now()
	trade := &trader.TradeData{
		GatewayName: g.Name(),
		Symbol:      order.Symbol,
		Exchange:    order.Exchange,
		OrderID:     order.OrderID,
		TradeID:     uuid.NewString(),
		Direction:   order.Direction,
		Offset:      order.Offset,
		Price:       price,
		Volume:      volume,
		Datetime:    &now,
	}

	pos := g.positionLocked(order.Symbol, order.Exchange)
	signed := volume
	if order.Direction == trader.DirectionShort {
		signed = volume.Neg()
	}
	pos.Volume = pos.Volume.Add(signed)
	if !pos.Volume.IsZero() {
		pos.Price = price
	}

	orderUpdate := cloneOrder(order)
	posUpdate := clonePosition(pos)
	g.mu.Unlock()

	g.OnTrade(trade)
	g.OnOrder(orderUpdate)
	g.OnPosition(posUpdate)
	return nil
}

// CancelOrder cancels an active order
func (g *Gateway) CancelOrder(ctx context.Context, req trader.CancelRequest) error {
	g.mu.Lock()
	order, ok := g.orders[req.OrderID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", req.OrderID, apperrors.ErrOrderNotFound)
	}
	if !order.IsActive() {
		g.mu.Unlock()
		return fmt.Errorf("cancel %s in status %s: %w", req.OrderID, order.Status, apperrors.ErrInvalidArgument)
	}
	order.Status = trader.StatusCancelled
	update := cloneOrder(order)
	g.mu.Unlock()

	g.OnOrder(update)
	return nil
}

// SendQuote accepts a two-sided quote
func (g *Gateway) SendQuote(ctx context.Context, req trader.QuoteRequest) (string, error) {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return "", apperrors.ErrNotConnected
	}
	g.quoteIDSeq++
	quote := req.CreateQuoteData("q"+strconv.FormatInt(g.quoteIDSeq, 10), g.Name())
	quote.Status = trader.StatusNotTraded
	g.quotes[quote.QuoteID] = quote
	c := quote.Clone()
	g.mu.Unlock()

	g.OnQuote(&c)
	return c.VtQuoteID(), nil
}

// CancelQuote withdraws a working quote
func (g *Gateway) CancelQuote(ctx context.Context, req trader.CancelRequest) error {
	g.mu.Lock()
	quote, ok := g.quotes[req.OrderID]
	if !ok || !quote.IsActive() {
		g.mu.Unlock()
		return fmt.Errorf("cancel quote %s: %w", req.OrderID, apperrors.ErrOrderNotFound)
	}
	quote.Status = trader.StatusCancelled
	c := quote.Clone()
	g.mu.Unlock()

	g.OnQuote(&c)
	return nil
}

// QueryAccount re-publishes the account
func (g *Gateway) QueryAccount(ctx context.Context) error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return apperrors.ErrNotConnected
	}
	account := g.accountLocked()
	g.mu.Unlock()

	g.OnAccount(account)
	return nil
}

// QueryPosition re-publishes every position
func (g *Gateway) QueryPosition(ctx context.Context) error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return apperrors.ErrNotConnected
	}
	positions := make([]*trader.PositionData, 0, len(g.positions))
	for _, p := range g.positions {
		positions = append(positions, clonePosition(p))
	}
	g.mu.Unlock()

	for _, p := range positions {
		g.OnPosition(p)
	}
	return nil
}

func (g *Gateway) positionLocked(symbol string, exchange trader.Exchange) *trader.PositionData {
	vt := trader.VtSymbol(symbol, exchange)
	p, ok := g.positions[vt]
	if !ok {
		p = &trader.PositionData{
			GatewayName: g.Name(),
			Symbol:      symbol,
			Exchange:    exchange,
			Direction:   trader.DirectionNet,
		}
		g.positions[vt] = p
	}
	return p
}

func (g *Gateway) accountLocked() *trader.AccountData {
	return &trader.AccountData{
		GatewayName: g.Name(),
		AccountID:   g.accountID,
		Balance:     g.balance,
	}
}

func cloneOrder(o *trader.OrderData) *trader.OrderData {
	c := o.Clone()
	return &c
}

func clonePosition(p *trader.PositionData) *trader.PositionData {
	c := p.Clone()
	return &c
}
