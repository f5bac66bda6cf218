package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/config"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/bridge"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/logger"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/marketdata/feedapi"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/marketdata/sim"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[bridge] starting...")

	cfg := config.Load()
	slogger := logger.Init("bridge", parseLevel(cfg.LogLevel))
	symbols := cfg.ParseWatchlist()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Market-data source ----
	// A fatal startup error exits non-zero; the supervisor restarts us.
	var source model.MarketSource
	switch cfg.FeedMode {
	case "api":
		client := feedapi.New(feedapi.Config{
			BaseURL:    cfg.FeedBaseURL,
			ClientCode: cfg.FeedClientCode,
			Password:   cfg.FeedPassword,
			TOTPSecret: cfg.FeedTOTPSecret,
			Timeout:    cfg.RequestTimeout,
		})
		loginCtx, loginCancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.Login(loginCtx)
		loginCancel()
		if err != nil {
			log.Fatalf("[bridge] feed login failed: %v", err)
		}
		log.Printf("[bridge] authenticated against %s", cfg.FeedBaseURL)
		source = client
	default:
		log.Printf("[bridge] using simulated feed (seed=%d)", cfg.SimSeed)
		source = sim.New(cfg.SimSeed)
	}
	health.SetFeedConnected(true)

	pusher := bridge.NewPusher(cfg.BridgeTarget, cfg.RequestTimeout)
	b, err := bridge.New(bridge.Config{
		Symbols:        symbols,
		Timeframe:      cfg.Timeframe,
		CandleCount:    cfg.CandleCount,
		Interval:       cfg.PushInterval,
		RequestTimeout: cfg.RequestTimeout,
		Cooldown:       cfg.Cooldown,
	}, source, pusher, slogger, prom)
	if err != nil {
		log.Fatalf("[bridge] init failed: %v", err)
	}
	log.Printf("[bridge] pushing %d symbols to %s every %v", len(symbols), cfg.BridgeTarget, cfg.PushInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	select {
	case <-sigCh:
		log.Println("[bridge] shutting down...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("[bridge] run failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	log.Println("[bridge] bye")
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
