// Command trader_node runs a trading node from a YAML file: the event
// engine, its gateways and registries, and depending on the role the RPC
// service, live event stream and metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"trade_engine/internal/bootstrap"
	"trade_engine/pkg/telemetry"
)

var (
	// set via -ldflags
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/trader_node.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trader_node version %s (built %s)\n", version, buildTime)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "trader_node: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return err
	}
	app.Logger.Info("Loaded configuration", "config", app.Cfg.String())

	if app.Cfg.Telemetry.EnableMetrics {
		provider, err := telemetry.SetupMetrics(app.Cfg.App.Name)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
	}

	node, err := bootstrap.NewNode(app)
	if err != nil {
		return err
	}
	return app.Run(node)
}
