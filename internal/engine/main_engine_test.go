package engine

import (
	"context"
	"testing"
	"time"

	"trade_engine/internal/event"
	"trade_engine/internal/gateway"
	"trade_engine/internal/mock"
	"trade_engine/internal/trader"
	apperrors "trade_engine/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newMainEngine(t *testing.T) (*MainEngine, *mock.Gateway) {
	t.Helper()
	logger := mock.NewNopLogger()
	bus := event.NewEngine(20*time.Millisecond, logger)
	m, err := NewMainEngine(bus, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	g := mock.NewGateway("MOCK", bus.Sender(), logger)
	require.NoError(t, m.AddGateway(g))
	return m, g
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestMainEngine_RoutesToGateway(t *testing.T) {
	m, g := newMainEngine(t)
	ctx := context.Background()

	require.NoError(t, m.ConnectAll(ctx, map[string]gateway.Settings{"MOCK": g.DefaultSetting()}))
	waitFor(t, func() bool { return len(m.OMS().GetAllContracts()) == 2 })

	req := trader.SubscribeRequest{Symbol: "BTCUSDT", Exchange: trader.ExchangeBinance}
	require.NoError(t, m.Subscribe(ctx, req, "MOCK"))
	g.PushTick("BTCUSDT", trader.ExchangeBinance, decimal.NewFromInt(50000))
	waitFor(t, func() bool {
		_, ok := m.OMS().GetTick("BTCUSDT.BINANCE")
		return ok
	})

	vtOrderID, err := m.SendOrder(ctx, trader.OrderRequest{
		Symbol: "BTCUSDT", Exchange: trader.ExchangeBinance, Direction: trader.DirectionLong,
		Type: trader.OrderTypeLimit, Volume: decimal.NewFromInt(1), Price: decimal.NewFromInt(49000),
	}, "MOCK")
	require.NoError(t, err)
	waitFor(t, func() bool { return len(m.OMS().GetAllActiveOrders()) == 1 })

	order, ok := m.OMS().GetOrder(vtOrderID)
	require.True(t, ok)
	require.NoError(t, m.CancelOrder(ctx, order.CreateCancelRequest(), "MOCK"))
	waitFor(t, func() bool { return len(m.OMS().GetAllActiveOrders()) == 0 })

	vtQuoteID, err := m.SendQuote(ctx, trader.QuoteRequest{Symbol: "BTCUSDT", Exchange: trader.ExchangeBinance}, "MOCK")
	require.NoError(t, err)
	waitFor(t, func() bool { return len(m.OMS().GetAllActiveQuotes()) == 1 })
	quote, _ := m.OMS().GetQuote(vtQuoteID)
	require.NoError(t, m.CancelQuote(ctx, quote.CreateCancelRequest(), "MOCK"))
	waitFor(t, func() bool { return len(m.OMS().GetAllActiveQuotes()) == 0 })

	require.NoError(t, m.QueryAccount(ctx, "MOCK"))
	require.NoError(t, m.QueryPosition(ctx, "MOCK"))
}

func TestMainEngine_GatewayRegistry(t *testing.T) {
	m, g := newMainEngine(t)

	assert.ErrorIs(t, m.AddGateway(g), apperrors.ErrDuplicateGateway)
	assert.Equal(t, []string{"MOCK"}, m.GatewayNames())
	assert.Equal(t, []trader.Exchange{trader.ExchangeBinance, trader.ExchangeLocal}, m.Exchanges())

	_, err := m.GetGateway("NOPE")
	assert.ErrorIs(t, err, apperrors.ErrGatewayNotFound)
	_, err = m.SendOrder(context.Background(), trader.OrderRequest{}, "NOPE")
	assert.ErrorIs(t, err, apperrors.ErrGatewayNotFound)
	assert.ErrorIs(t, m.Connect(context.Background(), nil, "NOPE"), apperrors.ErrGatewayNotFound)
}

func TestMainEngine_WriteLogReachesOMSAndLogger(t *testing.T) {
	logger, logs := mock.NewLogger(zapcore.DebugLevel)
	bus := event.NewEngine(time.Hour, logger)
	m, err := NewMainEngine(bus, logger)
	require.NoError(t, err)

	m.WriteLog("engine ready", "")
	require.NoError(t, bus.Put(event.New(event.TypeLog, &trader.LogData{GatewayName: "G", Msg: "bad fill", Level: trader.LogLevelError})))
	require.NoError(t, m.Close())

	stored := m.OMS().GetLogs()
	require.Len(t, stored, 2)
	assert.Equal(t, "bad fill", stored[0].Msg)
	assert.Equal(t, SourceMainEngine, stored[1].GatewayName)

	errs := logs.FilterMessage("bad fill").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Len(t, logs.FilterMessage("engine ready").FilterField(zap.String("gateway", SourceMainEngine)).All(), 1)
}

func TestMainEngine_CloseIsIdempotent(t *testing.T) {
	m, g := newMainEngine(t)
	require.NoError(t, m.Connect(context.Background(), g.DefaultSetting(), "MOCK"))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.False(t, g.Connected())
	assert.False(t, m.Events().Active())
}
