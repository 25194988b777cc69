package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"sushii/internal/analytics"
	"sushii/internal/bot"
	"sushii/internal/config"
	"sushii/internal/health"
	"sushii/internal/metrics"
	"sushii/internal/modules/audit"
	"sushii/internal/settings"
	"sushii/internal/spam"
	"sushii/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		cancel()
		logger.Fatal("migrations failed", zap.Error(err))
	}
	cancel()

	auditLogger := audit.NewLogger(store, logger.Named("audit"))
	settingsCache := settings.NewCache(store, cfg.SettingsCacheTTL(), storage.GuildSettings{
		SpamEnabled:    cfg.Spam.Enabled,
		TimeoutSeconds: cfg.Actions.TimeoutSeconds,
		LogChannelID:   cfg.DefaultLogChannel,
	}, logger.Named("settings"))
	defer settingsCache.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	tracker := spam.NewTracker(cfg.SpamConfig(),
		spam.WithLogger(logger.Named("spam")),
		spam.WithDetectHook(m.ObserveDetection),
	)
	defer tracker.Destroy()
	metrics.RegisterTracker(registry, tracker)

	botSvc, err := bot.New(cfg, logger.Named("bot"), settingsCache, auditLogger, store, tracker, m)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started",
		zap.Duration("spam_window", tracker.Config().Horizon),
		zap.Duration("spam_reap_interval", tracker.Config().ReapInterval),
		zap.Int("spam_channel_threshold", tracker.Config().Threshold),
	)

	var server *health.Server
	if cfg.Health.Enabled {
		server = health.NewServer(cfg.Health.Addr, cfg.Health.MaxConns, registry, tracker, analytics.New(store), logger.Named("health"))
		if err := server.Start(); err != nil {
			logger.Error("health server start failed", zap.Error(err))
			server = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
}
