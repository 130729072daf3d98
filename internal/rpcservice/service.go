// Package rpcservice exposes a MainEngine to remote nodes: its operations
// and registries become RPC procedures and its events are published with
// the event type as topic.
package rpcservice

import (
	"context"
	"errors"
	"sync"

	"trade_engine/internal/core"
	"trade_engine/internal/engine"
	"trade_engine/internal/event"
	"trade_engine/internal/trader"
	"trade_engine/pkg/rpc"
)

// Service binds a MainEngine to an rpc.Server
type Service struct {
	main   *engine.MainEngine
	server *rpc.Server
	logger core.ILogger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	handlerID event.HandlerID
	running   bool
}

// NewService registers every procedure on a new server
func NewService(main *engine.MainEngine, cfg rpc.ServerConfig, logger core.ILogger) *Service {
	s := &Service{
		main:   main,
		server: rpc.NewServer(cfg, logger),
		logger: logger.WithField("component", "rpc_service"),
		ctx:    context.Background(),
	}
	s.registerProcedures()
	return s
}

// Server returns the underlying RPC server
func (s *Service) Server() *rpc.Server { return s.server }

// Start binds the server and begins publishing engine events
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.server.Start(ctx); err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.handlerID = s.main.Events().RegisterGeneral(s.forward)
	s.running = true
	s.logger.Info("RPC service started", "rep", s.server.RepAddr(), "pub", s.server.PubAddr())
	return nil
}

// Stop detaches from the engine and stops the server
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.main.Events().UnregisterGeneral(s.handlerID)
	s.cancel()
	s.server.Stop()
	s.logger.Info("RPC service stopped")
}

// forward publishes every event except timer ticks
func (s *Service) forward(ev event.Event) {
	if ev.Type == event.TypeTimer {
		return
	}
	env, err := trader.EncodePayload(ev.Payload)
	if err != nil {
		s.logger.Warn("Event not published", "event_type", ev.Type, "error", err)
		return
	}
	if err := s.server.Publish(ev.Type, env); err != nil && !errors.Is(err, rpc.ErrNotStarted) {
		s.logger.Warn("Event not published", "event_type", ev.Type, "error", err)
	}
}

func (s *Service) callContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Service) registerProcedures() {
	m := s.main
	oms := m.OMS()

	s.server.Register("subscribe", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		req, gatewayName, err := requestArgs[trader.SubscribeRequest](args)
		if err != nil {
			return nil, err
		}
		return nil, m.Subscribe(s.callContext(), req, gatewayName)
	})
	s.server.Register("send_order", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		req, gatewayName, err := requestArgs[trader.OrderRequest](args)
		if err != nil {
			return nil, err
		}
		return m.SendOrder(s.callContext(), req, gatewayName)
	})
	s.server.Register("cancel_order", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		req, gatewayName, err := requestArgs[trader.CancelRequest](args)
		if err != nil {
			return nil, err
		}
		return nil, m.CancelOrder(s.callContext(), req, gatewayName)
	})
	s.server.Register("send_quote", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		req, gatewayName, err := requestArgs[trader.QuoteRequest](args)
		if err != nil {
			return nil, err
		}
		return m.SendQuote(s.callContext(), req, gatewayName)
	})
	s.server.Register("cancel_quote", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		req, gatewayName, err := requestArgs[trader.CancelRequest](args)
		if err != nil {
			return nil, err
		}
		return nil, m.CancelQuote(s.callContext(), req, gatewayName)
	})
	s.server.Register("query_account", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		gatewayName, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return nil, m.QueryAccount(s.callContext(), gatewayName)
	})
	s.server.Register("query_position", func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		gatewayName, err := args.String(0)
		if err != nil {
			return nil, err
		}
		return nil, m.QueryPosition(s.callContext(), gatewayName)
	})

	s.server.Register("get_tick", lookup(oms.GetTick))
	s.server.Register("get_order", lookup(oms.GetOrder))
	s.server.Register("get_trade", lookup(oms.GetTrade))
	s.server.Register("get_position", lookup(oms.GetPosition))
	s.server.Register("get_account", lookup(oms.GetAccount))
	s.server.Register("get_contract", lookup(oms.GetContract))
	s.server.Register("get_quote", lookup(oms.GetQuote))

	s.server.Register("get_all_ticks", list(oms.GetAllTicks))
	s.server.Register("get_all_orders", list(oms.GetAllOrders))
	s.server.Register("get_all_trades", list(oms.GetAllTrades))
	s.server.Register("get_all_positions", list(oms.GetAllPositions))
	s.server.Register("get_all_accounts", list(oms.GetAllAccounts))
	s.server.Register("get_all_contracts", list(oms.GetAllContracts))
	s.server.Register("get_all_quotes", list(oms.GetAllQuotes))
	s.server.Register("get_all_active_orders", list(oms.GetAllActiveOrders))
	s.server.Register("get_all_active_quotes", list(oms.GetAllActiveQuotes))
	s.server.Register("get_logs", list(oms.GetLogs))
	s.server.Register("get_all_gateway_names", list(m.GatewayNames))
	s.server.Register("get_all_exchanges", list(m.Exchanges))
}

// requestArgs decodes the (request, gateway_name) argument pair
func requestArgs[T any](args rpc.Args) (T, string, error) {
	var req T
	if err := args.Decode(0, &req); err != nil {
		return req, "", err
	}
	gatewayName, err := args.String(1)
	return req, gatewayName, err
}

// lookup answers with the stored record, or null when the id is unknown
func lookup[T any](get func(string) (T, bool)) rpc.Procedure {
	return func(args rpc.Args, _ rpc.Kwargs) (any, error) {
		id, err := args.String(0)
		if err != nil {
			return nil, err
		}
		if v, ok := get(id); ok {
			return v, nil
		}
		return nil, nil
	}
}

func list[T any](all func() []T) rpc.Procedure {
	return func(rpc.Args, rpc.Kwargs) (any, error) {
		return all(), nil
	}
}
