package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Leshaka/lunodog-bot/internal/bot"
	"github.com/Leshaka/lunodog-bot/internal/config"
	"github.com/Leshaka/lunodog-bot/internal/discord"
	"github.com/Leshaka/lunodog-bot/internal/events"
	"github.com/Leshaka/lunodog-bot/internal/guildconfig"
	"github.com/Leshaka/lunodog-bot/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// runServe runs the bot until it receives SIGINT or SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.RequireDiscord(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting lunodog",
		"version", version,
		"commit", commit,
		"database", cfg.Database.Driver,
		"events", cfg.Events.NATSURL != "",
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	store, err := openStore(ctx, cfg, metrics, cfg.Database.MigrateOnStart())
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, subscriber, err := openEvents(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()
	defer subscriber.Close()

	adapter, err := discord.NewAdapter(discord.Config{
		Token:              cfg.Discord.Token,
		AppID:              cfg.Discord.AppID,
		DevGuildID:         cfg.Discord.DevGuildID,
		CommandName:        cfg.Discord.CommandName,
		MaxConnectAttempts: cfg.Discord.Reconnect.MaxAttempts,
		InitialBackoff:     cfg.Discord.Reconnect.InitialInterval,
		MaxBackoff:         cfg.Discord.Reconnect.MaxInterval,
		CommandRate:        cfg.Discord.CommandRate,
		Logger:             logger,
		Metrics:            metrics,
		Tracer:             tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to create discord adapter: %w", err)
	}

	factory, err := bot.NewGuildSettings(adapter,
		guildconfig.WithStore(store),
		guildconfig.WithLogger(logger),
		guildconfig.WithObserver(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to build guild settings: %w", err)
	}
	svc, err := bot.NewService(factory, bot.Options{
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		return err
	}
	adapter.SetConfigService(svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Run(gctx, subscriber); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("config event loop: %w", err)
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, logger) })
	}

	if err := adapter.Start(ctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	logger.Info("lunodog is running", "origin", svc.Origin())

	<-gctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := adapter.Stop(stopCtx); err != nil {
		logger.Warn("discord adapter stop failed", "error", err)
	}
	stop()
	return g.Wait()
}

// openEvents wires the change event bus. Without NATS a process-local bus
// is used, so a single bot process behaves the same either way.
func openEvents(cfg *config.Config) (events.Publisher, events.Subscriber, error) {
	if cfg.Events.NATSURL == "" {
		bus := events.NewLocalBus()
		return bus, bus, nil
	}
	publisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		return nil, nil, err
	}
	subscriber, err := events.NewNATSSubscriber(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		_ = publisher.Close()
		return nil, nil, err
	}
	return publisher, subscriber, nil
}

// serveMetrics exposes Prometheus metrics until ctx is done.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "address", cfg.Address, "path", cfg.Path)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
