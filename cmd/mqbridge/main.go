// Package main implements the mqbridge entry point. mqbridge is a
// long-running bridge that subscribes to a message broker and persists
// each received message as a document in a document store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/CodeByJF/mqbridge/bridge"
	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/broker/natsbroker"
	"github.com/CodeByJF/mqbridge/config"
	"github.com/CodeByJF/mqbridge/connector"
	"github.com/CodeByJF/mqbridge/health"
	"github.com/CodeByJF/mqbridge/metric"
	"github.com/CodeByJF/mqbridge/pkg/retry"
	"github.com/CodeByJF/mqbridge/queue"
	"github.com/CodeByJF/mqbridge/storage/mongostore"
	"github.com/CodeByJF/mqbridge/transform"
	"github.com/CodeByJF/mqbridge/writer"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "mqbridge"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("bridge failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	logger.Info("starting bridge",
		"broker_url", cfg.Broker.URL,
		"subjects", cfg.Broker.Subjects,
		"delivery_mode", cfg.Broker.DeliveryMode,
		"transform_mode", cfg.Transform.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runBridge(ctx, cfg, logger)
}

func runBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	b, err := buildBridge(cfg, logger, registry, monitor)
	if err != nil {
		return err
	}

	var httpServer *metric.Server
	if cfg.HTTP.Enabled {
		httpServer = metric.NewServer(cfg.HTTP.Port, "/metrics", registry)
		httpServer.Handle("/healthz", health.Handler(monitor, appName))
		go func() {
			if serveErr := httpServer.Start(); serveErr != nil {
				logger.Error("http endpoint failed", "error", serveErr)
			}
		}()
	}

	runErr := b.Run(ctx)

	if httpServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Stop(stopCtx); err != nil {
			logger.Warn("stop http endpoint", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("bridge terminated: %w", runErr)
	}
	logger.Info("bridge stopped cleanly")
	return nil
}

// buildBridge assembles the pipeline from configuration.
func buildBridge(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
) (*bridge.Bridge, error) {
	// The fatal callback fires only after the bridge is running, well
	// after this pointer is set.
	var b *bridge.Bridge

	clientOpts := []natsbroker.Option{
		natsbroker.WithOnFatal(func(err error) {
			if b != nil {
				b.Fatal(err)
			}
		}),
		natsbroker.WithDeliveryMode(natsbroker.DeliveryMode(cfg.Broker.DeliveryMode)),
		natsbroker.WithName(appName),
		natsbroker.WithLogger(logger),
		natsbroker.WithConnectTimeout(cfg.Broker.ConnectTimeout),
		natsbroker.WithDrainTimeout(cfg.Broker.DrainTimeout),
		natsbroker.WithBackoff(broker.Backoff{
			Initial: cfg.Broker.ReconnectInitial,
			Max:     cfg.Broker.ReconnectMax,
			Jitter:  0.25,
		}),
	}
	if cfg.Broker.DeliveryMode == "jetstream" {
		clientOpts = append(clientOpts,
			natsbroker.WithStream(cfg.Broker.Stream, cfg.Broker.Durable),
			natsbroker.WithAckWait(cfg.Broker.AckWait))
	}
	if cfg.Broker.Username != "" {
		clientOpts = append(clientOpts,
			natsbroker.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	if cfg.Broker.Token != "" {
		clientOpts = append(clientOpts, natsbroker.WithToken(cfg.Broker.Token))
	}
	if cfg.Broker.TLSCert != "" {
		clientOpts = append(clientOpts,
			natsbroker.WithTLS(cfg.Broker.TLSCert, cfg.Broker.TLSKey))
	}
	if cfg.Broker.TLSCA != "" {
		clientOpts = append(clientOpts, natsbroker.WithRootCA(cfg.Broker.TLSCA))
	}

	client, err := natsbroker.NewClient(cfg.Broker.URL, cfg.Broker.Subjects, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create broker client: %w", err)
	}

	store, err := mongostore.New(mongostore.Config{
		URI:            cfg.Store.URI,
		Database:       cfg.Store.Database,
		Collection:     cfg.Store.Collection,
		ConnectTimeout: cfg.Store.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	transformer, err := transform.New(transform.Config{
		Mode:            transform.Mode(cfg.Transform.Mode),
		PathPrefix:      cfg.Transform.PathPrefix,
		Timezone:        cfg.Transform.Timezone,
		WeightAttribute: cfg.Transform.WeightAttribute,
		FatAttribute:    cfg.Transform.FatAttribute,
	})
	if err != nil {
		return nil, fmt.Errorf("create transformer: %w", err)
	}

	b, err = bridge.New(bridge.Options{
		Subscriber:        client,
		Publisher:         client,
		Store:             store,
		Transformer:       transformer,
		DeadLetterSubject: cfg.DeadLetter.Subject,
		QueueCapacity:     cfg.Queue.Capacity,
		QueuePolicy:       queue.ParsePolicy(cfg.Queue.OverflowPolicy),
		Connector: connector.Config{
			AckOnFailure: cfg.Writer.AckOnFailure,
		},
		Writer: writer.Config{
			Retry: retry.Config{
				MaxAttempts:  cfg.Writer.MaxAttempts,
				InitialDelay: cfg.Writer.InitialDelay,
				MaxDelay:     cfg.Writer.MaxDelay,
				Multiplier:   2.0,
				AddJitter:    true,
			},
			WriteTimeout: cfg.Store.WriteTimeout,
		},
		GracePeriod: getEnvDuration("MQBRIDGE_GRACE_PERIOD", 30*time.Second),
		Logger:      logger,
		Metrics:     registry.CoreMetrics(),
		Registry:    registry,
		Health:      monitor,
	})
	if err != nil {
		return nil, fmt.Errorf("create bridge: %w", err)
	}

	return b, nil
}
