package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/config"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/logger"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/notify"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/supervisor"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[supervisor] starting...")

	cfg := config.Load()
	slogger := logger.Init("supervisor", parseLevel(cfg.LogLevel))

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	os.MkdirAll(filepath.Dir(cfg.CrashLogPath), 0o755)
	sup, err := supervisor.New(supervisor.Config{
		Command:      cfg.ParseBridgeCommand(),
		RestartDelay: cfg.RestartDelay,
		CrashLogPath: cfg.CrashLogPath,
	}, slogger, prom)
	if err != nil {
		log.Fatalf("[supervisor] init failed: %v", err)
	}
	sup.Notifier = buildNotifier(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[supervisor] shutting down...")
		cancel()
	}()

	log.Printf("[supervisor] supervising %q (restart delay %v)", cfg.BridgeCommand, cfg.RestartDelay)
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[supervisor] run failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	log.Printf("[supervisor] bye (%d restarts)", sup.Restarts())
}

// buildNotifier assembles the configured alert backends; logging is always on.
func buildNotifier(cfg *config.Config) notify.Notifier {
	backends := notify.Multi{notify.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		backends = append(backends, notify.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return backends
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
