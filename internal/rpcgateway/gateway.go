// Package rpcgateway mirrors a remote trading node as a local gateway.
// Remote events are re-emitted locally under this gateway's name and
// requests are forwarded to the remote gateway that owns the symbol.
package rpcgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/gateway"
	"trade_engine/internal/trader"
	apperrors "trade_engine/pkg/errors"
	"trade_engine/pkg/rpc"
)

// Gateway forwards to a node running rpcservice
type Gateway struct {
	*gateway.BaseGateway

	mu          sync.RWMutex
	client      *rpc.Client
	owners      map[string]string // vt_symbol -> remote gateway name
	remotes     []string
	heartbeatMu sync.Mutex
	lost        bool
}

// NewGateway creates a disconnected gateway
func NewGateway(name string, sink event.Sink, logger core.ILogger) *Gateway {
	return &Gateway{
		BaseGateway: gateway.NewBaseGateway(name, []trader.Exchange{trader.ExchangeGlobal}, sink, logger),
		owners:      make(map[string]string),
	}
}

// DefaultSetting lists the accepted connection settings
func (g *Gateway) DefaultSetting() gateway.Settings {
	return gateway.Settings{
		"req_address":             rpc.DefaultReqAddress,
		"sub_address":             rpc.DefaultSubAddress,
		"timeout_ms":              int(rpc.DefaultTimeout.Milliseconds()),
		"heartbeat_tolerance_sec": int(rpc.DefaultHeartbeatTolerance.Seconds()),
	}
}

// Connect starts the RPC client, subscribes to every remote event and
// loads the remote registries
func (g *Gateway) Connect(ctx context.Context, setting gateway.Settings) error {
	def := g.DefaultSetting()
	client, err := rpc.NewClient(rpc.ClientConfig{
		Name:               g.Name(),
		ReqAddress:         setting.String("req_address", def.String("req_address", "")),
		SubAddress:         setting.String("sub_address", def.String("sub_address", "")),
		Timeout:            time.Duration(setting.Int("timeout_ms", def.Int("timeout_ms", 0))) * time.Millisecond,
		HeartbeatTolerance: time.Duration(setting.Int("heartbeat_tolerance_sec", def.Int("heartbeat_tolerance_sec", 0))) * time.Second,
	}, g.Logger)
	if err != nil {
		return err
	}
	if err := client.SubscribeTopic(""); err != nil {
		return err
	}
	client.SetCallback(g.onMessage)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", g.Name(), err)
	}

	g.mu.Lock()
	old := g.client
	g.client = client
	g.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	if err := g.loadSnapshot(ctx, client); err != nil {
		return err
	}
	g.WriteLog("RPC gateway connected")
	return nil
}

func (g *Gateway) loadSnapshot(ctx context.Context, client *rpc.Client) error {
	var remotes []string
	if err := client.CallInto(ctx, &remotes, "get_all_gateway_names", nil, nil); err != nil {
		return fmt.Errorf("query remote gateways: %w", err)
	}
	g.mu.Lock()
	g.remotes = remotes
	g.mu.Unlock()

	var contracts []trader.ContractData
	if err := client.CallInto(ctx, &contracts, "get_all_contracts", nil, nil); err != nil {
		return fmt.Errorf("query contracts: %w", err)
	}
	for i := range contracts {
		g.emit(&contracts[i])
	}

	var accounts []trader.AccountData
	if err := client.CallInto(ctx, &accounts, "get_all_accounts", nil, nil); err != nil {
		return fmt.Errorf("query accounts: %w", err)
	}
	for i := range accounts {
		g.emit(&accounts[i])
	}

	var positions []trader.PositionData
	if err := client.CallInto(ctx, &positions, "get_all_positions", nil, nil); err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	for i := range positions {
		g.emit(&positions[i])
	}

	var orders []trader.OrderData
	if err := client.CallInto(ctx, &orders, "get_all_orders", nil, nil); err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	for i := range orders {
		g.emit(&orders[i])
	}

	var trades []trader.TradeData
	if err := client.CallInto(ctx, &trades, "get_all_trades", nil, nil); err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	for i := range trades {
		g.emit(&trades[i])
	}
	return nil
}

// Close stops the RPC client
func (g *Gateway) Close() error {
	g.mu.Lock()
	client := g.client
	g.client = nil
	g.mu.Unlock()

	if client != nil {
		client.Stop()
		g.WriteLog("RPC gateway disconnected")
	}
	return nil
}

// Connected reports whether the remote node is reachable
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client != nil && g.client.IsConnected()
}

// IsHealthy implements core.IHealthReporter
func (g *Gateway) IsHealthy() bool { return g.Connected() }

// RemoteGateways returns the gateway names reported by the remote node
func (g *Gateway) RemoteGateways() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.remotes...)
}

// onMessage re-emits firehose frames. Subject-scoped duplicates are skipped
// because the local adapter emits both forms again.
func (g *Gateway) onMessage(topic string, data json.RawMessage) {
	if topic == rpc.HeartbeatTopic {
		g.onHeartbeat(data)
		return
	}
	if event.Prefix(topic) != topic {
		return
	}

	var env trader.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.Logger.Warn("Dropping undecodable remote event", "topic", topic, "error", err)
		return
	}
	payload, err := trader.DecodePayload(env)
	if err != nil {
		g.Logger.Warn("Dropping undecodable remote event", "topic", topic, "error", err)
		return
	}
	g.emit(payload)
}

func (g *Gateway) onHeartbeat(data json.RawMessage) {
	g.heartbeatMu.Lock()
	defer g.heartbeatMu.Unlock()

	if string(data) == string(rpc.DisconnectedMarker) {
		if !g.lost {
			g.lost = true
			g.WriteLog("RPC server heartbeat lost")
		}
		return
	}
	g.lost = false
}

// emit records symbol ownership and re-emits p under the local name
func (g *Gateway) emit(p event.Payload) {
	if c, ok := p.(*trader.ContractData); ok {
		g.mu.Lock()
		g.owners[c.VtSymbol()] = c.GatewayName
		g.mu.Unlock()
	}

	switch v := trader.WithGatewayName(p, g.Name()).(type) {
	case *trader.TickData:
		g.OnTick(v)
	case *trader.TradeData:
		g.OnTrade(v)
	case *trader.OrderData:
		g.OnOrder(v)
	case *trader.PositionData:
		g.OnPosition(v)
	case *trader.AccountData:
		g.OnAccount(v)
	case *trader.QuoteData:
		g.OnQuote(v)
	case *trader.ContractData:
		g.OnContract(v)
	case *trader.LogData:
		g.OnLog(v)
	}
}

// route returns the client and the remote gateway that owns vtSymbol
func (g *Gateway) route(vtSymbol string) (*rpc.Client, string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.client == nil {
		return nil, "", apperrors.ErrNotConnected
	}
	owner, ok := g.owners[vtSymbol]
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", vtSymbol, apperrors.ErrContractNotFound)
	}
	return g.client, owner, nil
}

func (g *Gateway) current() (*rpc.Client, []string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, nil, apperrors.ErrNotConnected
	}
	return g.client, append([]string(nil), g.remotes...), nil
}

// Subscribe forwards a market data subscription
func (g *Gateway) Subscribe(ctx context.Context, req trader.SubscribeRequest) error {
	client, owner, err := g.route(req.VtSymbol())
	if err != nil {
		return err
	}
	return client.CallInto(ctx, nil, "subscribe", []any{req, owner}, nil)
}

// SendOrder forwards an order and returns its local vt_orderid
func (g *Gateway) SendOrder(ctx context.Context, req trader.OrderRequest) (string, error) {
	client, owner, err := g.route(req.VtSymbol())
	if err != nil {
		return "", err
	}
	var remoteID string
	if err := client.CallInto(ctx, &remoteID, "send_order", []any{req, owner}, nil); err != nil {
		return "", err
	}
	return g.localID(remoteID), nil
}

// CancelOrder forwards a cancel request
func (g *Gateway) CancelOrder(ctx context.Context, req trader.CancelRequest) error {
	client, owner, err := g.route(req.VtSymbol())
	if err != nil {
		return err
	}
	return client.CallInto(ctx, nil, "cancel_order", []any{req, owner}, nil)
}

// SendQuote forwards a quote and returns its local vt_quoteid
func (g *Gateway) SendQuote(ctx context.Context, req trader.QuoteRequest) (string, error) {
	client, owner, err := g.route(req.VtSymbol())
	if err != nil {
		return "", err
	}
	var remoteID string
	if err := client.CallInto(ctx, &remoteID, "send_quote", []any{req, owner}, nil); err != nil {
		return "", err
	}
	return g.localID(remoteID), nil
}

// CancelQuote forwards a quote cancel request
func (g *Gateway) CancelQuote(ctx context.Context, req trader.CancelRequest) error {
	client, owner, err := g.route(req.VtSymbol())
	if err != nil {
		return err
	}
	return client.CallInto(ctx, nil, "cancel_quote", []any{req, owner}, nil)
}

// QueryAccount asks every remote gateway to republish its accounts
func (g *Gateway) QueryAccount(ctx context.Context) error {
	return g.queryAll(ctx, "query_account")
}

// QueryPosition asks every remote gateway to republish its positions
func (g *Gateway) QueryPosition(ctx context.Context) error {
	return g.queryAll(ctx, "query_position")
}

func (g *Gateway) queryAll(ctx context.Context, method string) error {
	client, remotes, err := g.current()
	if err != nil {
		return err
	}
	if err := client.Err(); err != nil {
		return err
	}
	for _, name := range remotes {
		if err := client.CallInto(ctx, nil, method, []any{name}, nil); err != nil {
			return fmt.Errorf("%s on %s: %w", method, name, err)
		}
	}
	return nil
}

// localID swaps the remote gateway prefix of a vt id for the local name
func (g *Gateway) localID(remoteID string) string {
	if i := strings.IndexByte(remoteID, '.'); i >= 0 {
		return g.Name() + remoteID[i:]
	}
	return g.Name() + "." + remoteID
}
