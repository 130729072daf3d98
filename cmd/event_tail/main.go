// Command event_tail prints the events of a remote trading node. By
// default it mirrors the node through an RPC gateway into a local engine;
// with -ws it reads a live event stream instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trade_engine/internal/bootstrap"
	"trade_engine/internal/config"
	"trade_engine/pkg/cli"
	"trade_engine/pkg/liveserver"
	"trade_engine/pkg/logging"
	"trade_engine/pkg/websocket"
)

type topicList []string

func (t *topicList) String() string { return strings.Join(*t, ",") }

func (t *topicList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func main() {
	var topics topicList
	configPath := flag.String("config", "", "Optional node configuration; overrides -req/-sub")
	reqAddr := flag.String("req", "tcp://localhost:2014", "RPC request address of the remote node")
	subAddr := flag.String("sub", "tcp://localhost:4102", "RPC publish address of the remote node")
	wsURL := flag.String("ws", "", "Tail a live event stream, e.g. ws://localhost:8081/ws")
	origin := flag.String("origin", "http://localhost:8081", "Origin header sent with -ws")
	level := flag.String("log-level", "INFO", "Log level")
	flag.Var(&topics, "topic", "Event type prefix to print (repeatable, default all)")
	flag.Parse()

	err := validateFlags(*wsURL, *reqAddr, *subAddr, topics)
	if err == nil && *wsURL != "" {
		err = tailStream(*wsURL, *origin, *level, topics)
	} else if err == nil {
		err = tailRPC(*configPath, *reqAddr, *subAddr, *level, topics)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "event_tail: %v\n", err)
		os.Exit(1)
	}
}

func validateFlags(wsURL, reqAddr, subAddr string, topics []string) error {
	for _, t := range topics {
		if err := cli.ValidateTopic(t); err != nil {
			return err
		}
	}
	if wsURL != "" {
		return cli.ValidateStreamURL(wsURL)
	}
	if err := cli.ValidateEndpoint(reqAddr); err != nil {
		return fmt.Errorf("-req: %w", err)
	}
	if err := cli.ValidateEndpoint(subAddr); err != nil {
		return fmt.Errorf("-sub: %w", err)
	}
	return nil
}

func tailRPC(configPath, reqAddr, subAddr, level string, topics []string) error {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := bootstrap.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = clientConfig(reqAddr, subAddr, level)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	app, err := bootstrap.NewAppFromConfig(cfg)
	if err != nil {
		return err
	}
	node, err := bootstrap.NewNode(app)
	if err != nil {
		return err
	}

	p := newPrinter(app.Logger, topics)
	node.Events.RegisterGeneral(p.onEvent)
	return app.Run(node)
}

// clientConfig mirrors one remote node through a gateway named RPC
func clientConfig(reqAddr, subAddr, level string) *config.Config {
	cfg := &config.Config{
		App: config.AppConfig{Name: "event_tail", Role: config.RoleClient},
		Gateways: map[string]config.GatewayConfig{
			"RPC": {Type: config.GatewayRPC},
		},
		System: config.SystemConfig{LogLevel: level},
	}
	cfg.RPC.Client.ReqAddress = reqAddr
	cfg.RPC.Client.SubAddress = subAddr
	cfg.ApplyDefaults()
	return cfg
}

func tailStream(url, origin, level string, topics []string) error {
	logger, err := logging.NewZapLogger(level, logging.WithServiceName("event_tail"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	p := newPrinter(logger, nil)
	header := http.Header{}
	header.Set("Origin", origin)

	client := websocket.NewClient(url, header, p.onFrame, logger)
	client.SetOnConnected(func() {
		// the server defaults to every topic when none is requested
		if len(topics) == 0 {
			return
		}
		if err := client.Send(liveserver.Command{Action: liveserver.ActionUnsubscribe, Topic: ""}); err != nil {
			logger.Warn("Subscribe failed", "error", err)
			return
		}
		for _, t := range topics {
			if err := client.Send(liveserver.Command{Action: liveserver.ActionSubscribe, Topic: t}); err != nil {
				logger.Warn("Subscribe failed", "topic", t, "error", err)
				return
			}
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Tailing live stream", "url", url)
	client.Start()
	<-ctx.Done()
	client.Stop()
	return nil
}
