package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"behavior-server/pkg/config"
	http_server "behavior-server/pkg/http"
	"behavior-server/pkg/messaging"
	"behavior-server/pkg/metrics"
	"behavior-server/pkg/orchestrator"
	"behavior-server/pkg/storage"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	metrics.Init(logger)

	// Storage: Redis when configured, in-memory otherwise.
	var backend storage.Backend
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisBackend, err := storage.NewRedisBackend(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Warning("Redis unavailable, falling back to in-memory storage")
		} else {
			backend = redisBackend
			logger.Info("Connected to Redis storage backend")
		}
	}
	store, err := storage.NewEncryptedStore(cfg.EncryptionKey, backend, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize encrypted store")
	}
	defer store.Close()

	orch := orchestrator.New(orchestrator.Config{
		SampleRate:      cfg.SampleRate,
		HeatmapWidth:    cfg.HeatmapWidth,
		HeatmapHeight:   cfg.HeatmapHeight,
		SnapshotHistory: cfg.SnapshotHistory,
		AlertHistory:    cfg.AlertHistory,
	}, logger)

	// AMQP delivery is optional; analysis runs without it.
	var publisher *messaging.AMQPPublisher
	if cfg.AMQPUrl != "" {
		publisher = messaging.NewAMQPPublisher(logger, messaging.AMQPConfig{
			URL:       cfg.AMQPUrl,
			QueueName: cfg.AMQPQueueName,
		})
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Warning("AMQP unavailable, events will not be published")
		}
		defer publisher.Close()
	}

	server := http_server.NewServer(logger, http_server.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	}, orch, store, publisher)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server cleanly")
	}

	logger.WithField("active_sessions", orch.ActiveSessions()).Info("Behavior analysis server stopped")
}
