// Command exchanged runs the receive side of a data exchange: it consumes
// sender batches from Kafka into the fragment's slots and drains them into
// the archive.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/config"
	"github.com/jittakal/kafexchange/internal/drain"
	"github.com/jittakal/kafexchange/internal/fragment"
	"github.com/jittakal/kafexchange/internal/kafka"
	"github.com/jittakal/kafexchange/internal/observability"
	"github.com/jittakal/kafexchange/internal/server"
	"github.com/jittakal/kafexchange/internal/storage"
	pkgstorage "github.com/jittakal/kafexchange/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "config/application.yaml"
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting exchange receiver",
		zap.String("query_id", cfg.Fragment.QueryID),
		zap.Int("major_fragment_id", cfg.Fragment.MajorFragmentID),
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
		zap.Ints("exchanges", cfg.Fragment.ExchangeIDs()),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Cleanups run in reverse registration order.
	var cleanups []func() error
	addCleanup := func(name string, fn func() error) {
		cleanups = append(cleanups, func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		logger.Debug("registered cleanup", zap.String("component", name))
	}
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				logger.Error("cleanup failed", zap.Error(err))
			}
		}
	}()

	fctx := fragment.NewContext(cfg.Fragment.QueryID, cfg.Fragment.MajorFragmentID, logger)
	incoming, err := fragment.NewIncomingBuffers(fctx, fragmentConfig(cfg, logger, metrics))
	if err != nil {
		return fmt.Errorf("failed to create incoming buffers: %w", err)
	}

	security := securityConfig(cfg.Kafka.Security)
	dlq, err := kafka.NewDLQPublisher(cfg.Kafka.Brokers, security, kafka.DLQConfig{
		Enabled:     cfg.Kafka.DLQ.Enabled,
		TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
		MaxRetries:  cfg.Kafka.DLQ.MaxRetries,
	}, logger, cfg.Application.Name)
	if err != nil {
		return fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlq.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writer pkgstorage.Writer
	if cfg.Archive.Enabled {
		writer, err = storage.NewWriter(ctx, storageConfig(cfg.Archive), logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create archive writer: %w", err)
		}
	} else {
		logger.Info("archive is disabled, drained batches are discarded")
		writer = storage.NewDiscardWriter(logger)
	}
	addCleanup("archive-writer", writer.Close)

	drainer, err := drain.New(
		drainConfig(cfg),
		exchangesOf(incoming),
		incoming.Readiness(),
		writer,
		archiveRouter(cfg.Archive),
		rotationPolicy(cfg.Archive.Rotation),
		logger,
		metrics,
	)
	if err != nil {
		return fmt.Errorf("failed to create drainer: %w", err)
	}
	grace := time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second
	addCleanup("drainer", func() error { return drainer.Close(grace) })

	transport, err := kafka.NewTransport(transportConfig(cfg), incoming, fctx, dlq, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	addCleanup("kafka-transport", transport.Close)

	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		server.NewFragmentHealth(incoming.Readiness(), fctx),
		registry,
		logger,
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	transportErr := make(chan error, 1)
	go func() {
		transportErr <- transport.Run(ctx)
	}()

	drainErr := make(chan error, 1)
	go func() {
		drainErr <- drainer.Run(ctx)
	}()

	logger.Info("application started successfully", zap.Strings("topics", transport.Topics()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", zap.String("signal", sig.String()))
		if err := incoming.Cancel(nil); err != nil {
			logger.Warn("cancel incoming buffers", zap.Error(err))
		}
		cancel()

	case err := <-drainErr:
		// every slot reached end of data
		drainErr <- err
		logger.Info("all exchanges drained", zap.Bool("exhausted", incoming.Exhausted()))
		if err := incoming.Close(); err != nil {
			logger.Warn("close connections", zap.Error(err))
		}

	case <-fctx.Done():
		runErr = fctx.Err()
		logger.Error("fragment failed, cancelling", zap.Error(runErr))
		if err := incoming.Cancel(nil); err != nil {
			logger.Warn("cancel incoming buffers", zap.Error(err))
		}

	case err := <-transportErr:
		transportErr <- err
		if err != nil {
			runErr = fmt.Errorf("transport stopped: %w", err)
			logger.Error("transport stopped", zap.Error(err))
		}
		if err := incoming.Cancel(runErr); err != nil {
			logger.Warn("cancel incoming buffers", zap.Error(err))
		}
	}

	logger.Info("initiating graceful shutdown", zap.Duration("grace_period", grace))
	if err := transport.Close(); err != nil {
		logger.Warn("close transport", zap.Error(err))
	}

	select {
	case err := <-drainErr:
		if err != nil && !stderrors.Is(err, context.Canceled) {
			logger.Error("drain finished with errors", zap.Error(err))
			runErr = stderrors.Join(runErr, err)
		}
	case <-time.After(grace):
		logger.Warn("drain did not finish within the grace period")
		cancel()
	}

	st := drainer.Stats()
	logger.Info("application stopped",
		zap.Int64("batches", st.Batches),
		zap.Int64("signals", st.Signals),
		zap.Int64("segments", st.Segments),
		zap.Int64("failed_segments", st.Failed),
	)
	return runErr
}

func exchangesOf(incoming *fragment.IncomingBuffers) []drain.Exchange {
	collectors := incoming.Collectors()
	exchanges := make([]drain.Exchange, len(collectors))
	for i, c := range collectors {
		exchanges[i] = c
	}
	return exchanges
}
