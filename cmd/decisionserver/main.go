package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/config"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/cache"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/execution"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/logger"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/martingale"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/notify"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/server"
	redisstore "github.com/escjinho/trading-x-v3.1-sub000/internal/store/redis"
	sqlitestore "github.com/escjinho/trading-x-v3.1-sub000/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[decisionserver] starting...")

	cfg := config.Load()
	slogger := logger.Init("decisionserver", parseLevel(cfg.LogLevel))
	symbols := cfg.ParseWatchlist()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store + warm start ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[decisionserver] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	candleCache := cache.New(0)
	if windows, err := store.LoadWindows(); err != nil {
		log.Printf("[decisionserver] WARNING: warm start failed: %v", err)
	} else if len(windows) > 0 {
		candleCache.RestoreWindows(windows)
		log.Printf("[decisionserver] warm start: restored %d symbol windows", len(windows))
	}

	// ---- Redis publisher (optional) ----
	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[decisionserver] WARNING: redis init failed: %v (continuing without redis)", err)
			publisher = nil
			health.SetRedisConnected(false)
		} else {
			defer publisher.Close()
			health.SetRedisConnected(true)
			publisher.Breaker().OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[decisionserver] redis breaker %s -> %s", from, to)
			}
		}
	}
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	notifier := buildNotifier(cfg)

	// ---- Core wiring ----
	hub := server.NewHub()
	hub.OnClientCountChange = func(n int) { prom.WSClients.Set(float64(n)) }

	registry := martingale.NewRegistry()
	quotes := server.NewCacheQuotes(candleCache, cfg.ParseInstruments())

	srv := &server.Server{
		Cache:     candleCache,
		Hub:       hub,
		Registry:  registry,
		Quotes:    quotes,
		Publisher: publisher,
		Metrics:   prom,
		Log:       slogger,
	}
	srv.OnPositionClosed = func(key martingale.Key, symbol, direction string, profit float64, res martingale.CloseResult) {
		if err := store.AppendTrade(sqlitestore.JournalEntry{
			User: key.User, Magic: key.Magic, Symbol: symbol, Direction: direction,
			Step: res.TakenStep, Lot: res.TakenLot, Profit: profit, Action: string(res.Action),
		}); err != nil {
			slogger.Warn("journal append failed", "error", err)
		}
		if res.Action == martingale.ActionMaxReached {
			alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer alertCancel()
			notifier.Send(alertCtx, notify.Alert{
				Level:   notify.AlertCritical,
				Title:   "Martingale max step reached",
				Message: "cycle for " + key.User + " forced reset, see trade journal",
			})
		}
	}

	// ---- Paper trader (optional) ----
	var trader *execution.Trader
	if cfg.TraderEnabled {
		key := martingale.Key{User: cfg.TraderUser, Magic: cfg.TraderMagic}
		if err := registry.Enable(key, cfg.MartinBaseLot, cfg.MartinTarget, cfg.MartinMaxSteps); err != nil {
			log.Fatalf("[decisionserver] trader cycle enable failed: %v", err)
		}
		trader, err = execution.New(execution.Config{
			Key:       key,
			Symbol:    cfg.TraderSymbol,
			Threshold: cfg.ScoreThreshold,
		}, execution.Deps{
			Registry: registry,
			Gateway:  execution.NewPaperGateway(quotes),
			Quotes:   quotes,
			Journal:  store,
			Notifier: notifier,
			Metrics:  prom,
			Log:      slogger,
		})
		if err != nil {
			log.Fatalf("[decisionserver] trader init failed: %v", err)
		}
		go trader.Run(ctx)
		log.Printf("[decisionserver] paper trader running on %s (user=%s magic=%d)",
			cfg.TraderSymbol, cfg.TraderUser, cfg.TraderMagic)
	}

	srv.OnScore = func(symbol string, composite model.CompositeScore) {
		health.SetFeedConnected(true)
		health.SetLastPushTime(time.Now())
		if trader != nil {
			trader.OnScore(symbol, composite)
		}
	}

	// ---- HTTP server ----
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	httpSrv := &http.Server{Addr: cfg.ServerAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[decisionserver] http server failed: %v", err)
		}
	}()
	log.Printf("[decisionserver] listening on %s (metrics on %s)", cfg.ServerAddr, cfg.MetricsAddr)

	<-sigCh
	log.Println("[decisionserver] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	// Flush candle windows so the next start can warm-start from them.
	flushStart := time.Now()
	if err := store.SaveWindows(candleCache.SnapshotWindows()); err != nil {
		log.Printf("[decisionserver] WARNING: window flush failed: %v", err)
	}
	prom.SQLiteFlushDur.Observe(time.Since(flushStart).Seconds())
	log.Println("[decisionserver] bye")
}

// buildNotifier assembles the configured alert backends; logging is always on.
func buildNotifier(cfg *config.Config) notify.Notifier {
	backends := notify.Multi{notify.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		backends = append(backends, notify.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[decisionserver] webhook alerts enabled")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[decisionserver] telegram alerts enabled")
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
