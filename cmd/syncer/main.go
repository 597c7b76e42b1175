package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"threadfeed/internal/config"
	"threadfeed/internal/scheduler"
	"threadfeed/internal/server"
	"threadfeed/internal/service"
	"threadfeed/internal/sink"
	"threadfeed/internal/source/fourchan"
	"threadfeed/internal/storage/postgres"
	"threadfeed/internal/storage/sqlite"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to config file")
	pflag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	feedStore, closeStore, err := openStore(cfg.Database)
	if err != nil {
		logger.Error("failed to open feed store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("feed store ready", "driver", cfg.Database.Driver)

	rabbitMQ, err := sink.NewRabbitMQ(sink.Config{
		URL:                cfg.RabbitMQ.URL,
		Exchange:           cfg.RabbitMQ.Exchange,
		RoutingKey:         cfg.RabbitMQ.RoutingKey,
		QueueName:          cfg.RabbitMQ.QueueName,
		EmbedDefault:       cfg.RabbitMQ.EmbedDefault,
		EmbedByDestination: cfg.RabbitMQ.EmbedByDestination,
		AccentColor:        cfg.RabbitMQ.AccentColor,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	source := fourchan.New(fourchan.Config{
		APIBaseURL:     cfg.Source.APIBaseURL,
		BoardsBaseURL:  cfg.Source.BoardsBaseURL,
		MediaBaseURL:   cfg.Source.MediaBaseURL,
		Timeout:        cfg.Source.Timeout,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
		BoardListTTL:   cfg.Source.BoardListTTL,
	}, logger)

	syncService := service.NewSyncService(source, feedStore, rabbitMQ, logger)

	sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, cfg.Sync.TickTimeout, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.HTTP.Addr != "" {
		ops := server.New(cfg.HTTP.Addr, syncService, logger)
		go func() {
			if err := ops.Start(); err != nil {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			if err := ops.Shutdown(context.Background()); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	logger.Info("starting thread syncer",
		"source", source.ID(),
		"interval", cfg.Sync.Interval,
	)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg config.DatabaseConfig) (service.FeedStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		db, err := sqlx.Connect("postgres", cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewFeedStore(db), func() { db.Close() }, nil
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
