package trader

import (
	"encoding/json"
	"testing"
	"time"

	"trade_engine/internal/event"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifiers(t *testing.T) {
	order := &OrderData{GatewayName: "BINANCE_SPOT", Symbol: "BTCUSDT", Exchange: ExchangeBinance, OrderID: "1001"}
	assert.Equal(t, "BTCUSDT.BINANCE", order.VtSymbol())
	assert.Equal(t, "BINANCE_SPOT.1001", order.VtOrderID())

	trade := &TradeData{GatewayName: "G", Symbol: "ETHUSDT", Exchange: ExchangeOKX, OrderID: "7", TradeID: "t1"}
	assert.Equal(t, "G.t1", trade.VtTradeID())
	assert.Equal(t, "G.7", trade.VtOrderID())

	pos := &PositionData{GatewayName: "G", Symbol: "ES", Exchange: ExchangeCME, Direction: DirectionShort}
	assert.Equal(t, "G.ES.CME.SHORT", pos.VtPositionID())

	acct := &AccountData{GatewayName: "G", AccountID: "USDT", Balance: decimal.NewFromInt(100), Frozen: decimal.NewFromInt(30)}
	assert.Equal(t, "G.USDT", acct.VtAccountID())
	assert.True(t, acct.Available().Equal(decimal.NewFromInt(70)))

	quote := &QuoteData{GatewayName: "G", QuoteID: "q9"}
	assert.Equal(t, "G.q9", quote.VtQuoteID())
}

func TestStatusIsActive(t *testing.T) {
	active := []Status{StatusSubmitting, StatusNotTraded, StatusPartTraded}
	inactive := []Status{StatusAllTraded, StatusCancelled, StatusRejected}
	for _, s := range active {
		assert.True(t, s.IsActive(), s)
	}
	for _, s := range inactive {
		assert.False(t, s.IsActive(), s)
	}
}

func TestOrderRequestLifecycle(t *testing.T) {
	req := OrderRequest{
		Symbol: "BTCUSDT", Exchange: ExchangeBinance, Direction: DirectionLong,
		Type: OrderTypeLimit, Volume: decimal.NewFromFloat(0.5), Price: decimal.NewFromInt(50000),
		Reference: "grid",
	}
	order := req.CreateOrderData("42", "MOCK")
	assert.Equal(t, StatusSubmitting, order.Status)
	assert.Equal(t, "MOCK.42", order.VtOrderID())
	assert.Equal(t, "grid", order.Reference)

	cancel := order.CreateCancelRequest()
	assert.Equal(t, CancelRequest{OrderID: "42", Symbol: "BTCUSDT", Exchange: ExchangeBinance}, cancel)
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	order := &OrderData{OrderID: "1", Datetime: &now, Extra: map[string]string{"k": "v"}}
	c := order.Clone()
	c.Extra["k"] = "changed"
	*c.Datetime = now.Add(time.Hour)

	assert.Equal(t, "v", order.Extra["k"])
	assert.Equal(t, now, *order.Datetime)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tick := &TickData{
		GatewayName: "MOCK", Symbol: "BTCUSDT", Exchange: ExchangeBinance,
		Datetime:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		LastPrice: decimal.RequireFromString("50000.5"),
	}
	tick.BidPrice[0] = decimal.RequireFromString("50000.4")

	env, err := EncodePayload(tick)
	require.NoError(t, err)
	assert.Equal(t, "tick", env.Kind)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))
	payload, err := DecodePayload(back)
	require.NoError(t, err)

	got, ok := payload.(*TickData)
	require.True(t, ok)
	assert.Equal(t, tick.VtSymbol(), got.VtSymbol())
	assert.True(t, tick.LastPrice.Equal(got.LastPrice))
	assert.True(t, tick.BidPrice[0].Equal(got.BidPrice[0]))
	assert.True(t, tick.Datetime.Equal(got.Datetime))
}

func TestEnvelopeOpaque(t *testing.T) {
	env, err := EncodePayload(event.Opaque{Value: map[string]int{"n": 1}})
	require.NoError(t, err)
	assert.Equal(t, "opaque", env.Kind)
	assert.JSONEq(t, `{"n":1}`, string(env.Data))

	payload, err := DecodePayload(env)
	require.NoError(t, err)
	op, ok := payload.(event.Opaque)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(op.Value.(json.RawMessage)))

	empty, err := EncodePayload(nil)
	require.NoError(t, err)
	payload, err = DecodePayload(empty)
	require.NoError(t, err)
	assert.Equal(t, event.Opaque{}, payload)

	_, err = DecodePayload(Envelope{Kind: "bar", Data: []byte(`{}`)})
	assert.Error(t, err)
}

func TestWithGatewayName(t *testing.T) {
	order := &OrderData{GatewayName: "REMOTE", OrderID: "5"}
	renamed := WithGatewayName(order, "LOCAL").(*OrderData)
	assert.Equal(t, "LOCAL.5", renamed.VtOrderID())
	assert.Equal(t, "REMOTE", order.GatewayName)

	op := event.Opaque{Value: 1}
	assert.Equal(t, op, WithGatewayName(op, "X"))
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "INFO", NewLogData("G", "hello").Level.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "CRITICAL", LogLevel(55).String())
	assert.Equal(t, "DEBUG", LogLevel(0).String())
}
