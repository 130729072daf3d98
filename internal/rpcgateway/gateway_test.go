package rpcgateway

import (
	"context"
	"testing"
	"time"

	"trade_engine/internal/engine"
	"trade_engine/internal/event"
	"trade_engine/internal/gateway"
	"trade_engine/internal/mock"
	"trade_engine/internal/rpcservice"
	"trade_engine/internal/trader"
	apperrors "trade_engine/pkg/errors"
	"trade_engine/pkg/logging"
	"trade_engine/pkg/rpc"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodes struct {
	remote   *engine.MainEngine
	exchange *mock.Gateway
	service  *rpcservice.Service
	local    *engine.MainEngine
	gateway  *Gateway
}

func newNodes(t *testing.T) *nodes {
	t.Helper()
	logger := logging.NewNop()
	ctx := context.Background()

	remoteBus := event.NewEngine(time.Second, logger)
	remote, err := engine.NewMainEngine(remoteBus, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	exchange := mock.NewGateway("MOCK", remoteBus.Sender(), logger)
	require.NoError(t, remote.AddGateway(exchange))
	require.NoError(t, remote.Connect(ctx, exchange.DefaultSetting(), "MOCK"))
	require.Eventually(t, func() bool { return len(remote.OMS().GetAllContracts()) == 2 }, 2*time.Second, 10*time.Millisecond)

	service := rpcservice.NewService(remote, rpc.ServerConfig{
		RepAddress:        "tcp://127.0.0.1:0",
		PubAddress:        "tcp://127.0.0.1:0",
		HeartbeatInterval: 100 * time.Millisecond,
	}, logger)
	require.NoError(t, service.Start(ctx))
	t.Cleanup(service.Stop)

	localBus := event.NewEngine(time.Second, logger)
	local, err := engine.NewMainEngine(localBus, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	gw := NewGateway("RPC", localBus.Sender(), logger)
	require.NoError(t, local.AddGateway(gw))
	require.NoError(t, local.Connect(ctx, gateway.Settings{
		"req_address":             service.Server().RepAddr(),
		"sub_address":             service.Server().PubAddr(),
		"timeout_ms":              2000,
		"heartbeat_tolerance_sec": 2,
	}, "RPC"))
	require.Eventually(t, func() bool {
		gw.mu.RLock()
		defer gw.mu.RUnlock()
		return gw.client != nil && !gw.client.LastHeartbeat().IsZero()
	}, 3*time.Second, 20*time.Millisecond)

	return &nodes{remote: remote, exchange: exchange, service: service, local: local, gateway: gw}
}

func TestGateway_ConnectLoadsRemoteState(t *testing.T) {
	n := newNodes(t)

	require.Eventually(t, func() bool {
		return len(n.local.OMS().GetAllContracts()) == 2 && len(n.local.OMS().GetAllAccounts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	contract, ok := n.local.OMS().GetContract("BTCUSDT.BINANCE")
	require.True(t, ok)
	assert.Equal(t, "RPC", contract.GatewayName)

	account, ok := n.local.OMS().GetAccount("RPC.USDT")
	require.True(t, ok)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(10000)))

	assert.Equal(t, []string{"MOCK"}, n.gateway.RemoteGateways())
	assert.True(t, n.gateway.Connected())
}

func TestGateway_OrdersAndTradesFlowBack(t *testing.T) {
	n := newNodes(t)
	ctx := context.Background()

	vtOrderID, err := n.local.SendOrder(ctx, trader.OrderRequest{
		Symbol:    "BTCUSDT",
		Exchange:  trader.ExchangeBinance,
		Direction: trader.DirectionLong,
		Type:      trader.OrderTypeLimit,
		Volume:    decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(50000),
	}, "RPC")
	require.NoError(t, err)
	assert.Equal(t, "RPC.1001", vtOrderID)

	require.Eventually(t, func() bool {
		order, ok := n.local.OMS().GetOrder(vtOrderID)
		return ok && order.Status == trader.StatusNotTraded
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, n.exchange.Fill("1001", decimal.NewFromInt(1), decimal.NewFromInt(50000)))
	require.Eventually(t, func() bool {
		order, ok := n.local.OMS().GetOrder(vtOrderID)
		return ok && order.Status == trader.StatusAllTraded && len(n.local.OMS().GetAllTrades()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	trade := n.local.OMS().GetAllTrades()[0]
	assert.Equal(t, "RPC", trade.GatewayName)
	assert.Equal(t, "1001", trade.OrderID)
}

func TestGateway_SubscribeAndCancelAreForwarded(t *testing.T) {
	n := newNodes(t)
	ctx := context.Background()

	require.NoError(t, n.local.Subscribe(ctx, trader.SubscribeRequest{Symbol: "ETHUSDT", Exchange: trader.ExchangeBinance}, "RPC"))
	require.True(t, n.exchange.PushTick("ETHUSDT", trader.ExchangeBinance, decimal.NewFromInt(3000)))
	require.Eventually(t, func() bool {
		tick, ok := n.local.OMS().GetTick("ETHUSDT.BINANCE")
		return ok && tick.GatewayName == "RPC" && tick.LastPrice.Equal(decimal.NewFromInt(3000))
	}, 2*time.Second, 10*time.Millisecond)

	vtOrderID, err := n.local.SendOrder(ctx, trader.OrderRequest{
		Symbol: "ETHUSDT", Exchange: trader.ExchangeBinance, Direction: trader.DirectionShort,
		Type: trader.OrderTypeLimit, Volume: decimal.NewFromInt(1), Price: decimal.NewFromInt(3100),
	}, "RPC")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(n.local.OMS().GetAllActiveOrders()) == 1 }, 2*time.Second, 10*time.Millisecond)

	order, _ := n.local.OMS().GetOrder(vtOrderID)
	require.NoError(t, n.local.CancelOrder(ctx, order.CreateCancelRequest(), "RPC"))
	require.Eventually(t, func() bool { return len(n.local.OMS().GetAllActiveOrders()) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, n.local.QueryAccount(ctx, "RPC"))
	require.NoError(t, n.local.QueryPosition(ctx, "RPC"))
}

func TestGateway_UnknownSymbolAndDisconnected(t *testing.T) {
	n := newNodes(t)
	ctx := context.Background()

	_, err := n.gateway.SendOrder(ctx, trader.OrderRequest{Symbol: "DOGE", Exchange: trader.ExchangeBinance})
	assert.ErrorIs(t, err, apperrors.ErrContractNotFound)

	require.NoError(t, n.gateway.Close())
	assert.False(t, n.gateway.Connected())
	assert.ErrorIs(t, n.gateway.QueryAccount(ctx), apperrors.ErrNotConnected)
}

func TestGateway_LocalID(t *testing.T) {
	g := NewGateway("RPC", event.NewEngine(time.Second, logging.NewNop()).Sender(), logging.NewNop())
	assert.Equal(t, "RPC.1001", g.localID("MOCK.1001"))
	assert.Equal(t, "RPC.q1", g.localID("q1"))
}
