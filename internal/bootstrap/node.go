package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"trade_engine/internal/config"
	"trade_engine/internal/core"
	"trade_engine/internal/engine"
	"trade_engine/internal/event"
	"trade_engine/internal/gateway"
	"trade_engine/internal/infrastructure/metrics"
	"trade_engine/internal/mock"
	"trade_engine/internal/rpcgateway"
	"trade_engine/internal/rpcservice"
	"trade_engine/internal/trader"
	"trade_engine/pkg/concurrency"
	"trade_engine/pkg/liveserver"
)

// Node is one trading process: an engine with its gateways plus whatever
// outer surfaces the config enables
type Node struct {
	app    *App
	logger core.ILogger

	Events  *event.Engine
	Main    *engine.MainEngine
	Service *rpcservice.Service
	Hub     *liveserver.Hub
	Live    *liveserver.Server
	Metrics *metrics.Server

	pool     *concurrency.WorkerPool
	handlers []event.HandlerID
	timerID  event.HandlerID
}

// NewNode assembles a node from app.Cfg. Nothing is connected or bound
// until Run.
func NewNode(app *App) (*Node, error) {
	cfg := app.Cfg
	logger := app.Logger

	opts := []event.Option{event.WithName(cfg.App.Name)}
	if cfg.Event.QueueCapacity > 0 {
		opts = append(opts, event.WithQueueCapacity(cfg.Event.QueueCapacity))
	}
	events := event.NewEngine(cfg.TimerInterval(), logger, opts...)

	main, err := engine.NewMainEngine(events, logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		app:    app,
		logger: logger.WithField("component", "node"),
		Events: events,
		Main:   main,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "node_async",
			MaxWorkers:  cfg.Event.AsyncWorkers,
			MaxCapacity: 256,
			NonBlocking: true,
		}, logger),
	}

	for _, name := range cfg.GatewayNames() {
		gw, err := newGateway(name, cfg.Gateways[name].Type, events.Sender(), logger)
		if err != nil {
			n.abort()
			return nil, err
		}
		if err := main.AddGateway(gw); err != nil {
			n.abort()
			return nil, err
		}
		if r, ok := gw.(core.IHealthReporter); ok {
			app.Health.RegisterReporter("gateway."+name, r)
		}
	}

	app.Health.Register("event_engine", func() error {
		if !events.Active() {
			return errors.New("not dispatching")
		}
		return nil
	})

	if cfg.App.Role == config.RoleServer {
		n.Service = rpcservice.NewService(main, cfg.ServerConfig(), logger)
		app.Health.Register("rpc_server", func() error {
			if !n.Service.Server().Active() {
				return errors.New("not serving")
			}
			return nil
		})
	}

	if cfg.LiveServer.Enabled {
		liveCfg := liveserver.DefaultConfig()
		if len(cfg.LiveServer.AllowedOrigins) > 0 {
			liveCfg.AllowedOrigins = cfg.LiveServer.AllowedOrigins
		}
		n.Hub = liveserver.NewHub(logger)
		n.Live = liveserver.NewServer(n.Hub, logger, liveCfg)
		n.Live.SetHealthReporter(app.Health)
	}

	if cfg.Telemetry.EnableMetrics {
		n.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, app.Health, logger)
	}

	return n, nil
}

func newGateway(name, kind string, sink event.Sink, logger core.ILogger) (gateway.Gateway, error) {
	switch kind {
	case config.GatewayMock:
		return mock.NewGateway(name, sink, logger), nil
	case config.GatewayRPC:
		return rpcgateway.NewGateway(name, sink, logger), nil
	default:
		return nil, fmt.Errorf("gateway %s: unknown type %q", name, kind)
	}
}

// Run connects the gateways, starts the enabled surfaces and blocks until
// ctx is cancelled, then tears everything down in reverse order
func (n *Node) Run(ctx context.Context) error {
	cfg := n.app.Cfg
	defer n.shutdown()

	if n.Service != nil {
		if err := n.Service.Start(ctx); err != nil {
			return fmt.Errorf("start rpc service: %w", err)
		}
	}

	settings := make(map[string]gateway.Settings, len(cfg.Gateways))
	for _, name := range cfg.GatewayNames() {
		settings[name] = cfg.GatewaySettings(name)
	}
	if err := n.Main.ConnectAll(ctx, settings); err != nil {
		return fmt.Errorf("connect gateways: %w", err)
	}

	// health transitions are logged from the timer, off the dispatcher
	n.timerID = n.Events.Register(event.TypeTimer, event.Async(n.pool, func(event.Event) {
		n.app.Health.IsHealthy()
	}, n.logger))

	if n.Metrics != nil {
		if err := n.Metrics.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if n.Live != nil {
		n.handlers = append(n.handlers, n.Events.RegisterGeneral(n.stream))
		g.Go(func() error {
			n.Hub.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return n.Live.Start(ctx, ":"+strconv.Itoa(cfg.LiveServer.Port))
		})
	}

	n.Main.WriteLog("Node started", engine.SourceMainEngine)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// stream pushes every non-timer event to the live stream
func (n *Node) stream(ev event.Event) {
	if ev.Type == event.TypeTimer {
		return
	}
	env, err := trader.EncodePayload(ev.Payload)
	if err != nil {
		n.logger.Warn("Event not streamed", "event_type", ev.Type, "error", err)
		return
	}
	n.Live.Publish(ev.Type, env)
}

func (n *Node) shutdown() {
	n.Events.Unregister(event.TypeTimer, n.timerID)
	for _, id := range n.handlers {
		n.Events.UnregisterGeneral(id)
	}
	if n.Metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.Metrics.Stop(ctx); err != nil {
			n.logger.Warn("Metrics server stop failed", "error", err)
		}
		cancel()
	}
	if n.Service != nil {
		n.Service.Stop()
	}
	n.abort()
	n.logger.Info("Node stopped")
}

func (n *Node) abort() {
	if err := n.Main.Close(); err != nil {
		n.logger.Warn("Engine close reported errors", "error", err)
	}
	n.pool.Stop()
}
