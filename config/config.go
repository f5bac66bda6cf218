package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Decision server
	ServerAddr  string
	MetricsAddr string

	// Infrastructure
	RedisAddr     string // empty disables Redis publishing
	RedisPassword string
	SQLitePath    string

	// Watch-list and ingestion
	Watchlist      string // comma-separated symbols
	Timeframe      string
	CandleCount    int
	PushInterval   time.Duration
	RequestTimeout time.Duration
	Cooldown       time.Duration
	BridgeTarget   string // decision server base URL the bridge pushes to

	// Market-data feed
	FeedMode       string // "sim" or "api"
	FeedBaseURL    string
	FeedClientCode string
	FeedPassword   string
	FeedTOTPSecret string
	SimSeed        int64

	// Instrument metadata: "SYMBOL:point:tick_value:lot_step,..."
	Instruments string

	// Paper trading
	TraderEnabled  bool
	TraderUser     string
	TraderMagic    int64
	TraderSymbol   string
	ScoreThreshold float64
	MartinBaseLot  float64
	MartinTarget   float64
	MartinMaxSteps int

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Supervisor
	BridgeCommand string // space-separated argv
	RestartDelay  time.Duration
	CrashLogPath  string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Feed credentials are only required when FEED_MODE=api.
func Load() *Config {
	cfg := &Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/decision.db"),

		Watchlist:      getEnv("WATCHLIST", "EURUSD,GBPUSD,USDJPY"),
		Timeframe:      getEnv("TIMEFRAME", "M1"),
		CandleCount:    getInt("CANDLE_COUNT", 150),
		PushInterval:   getDuration("PUSH_INTERVAL", time.Second),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 5*time.Second),
		Cooldown:       getDuration("COOLDOWN", 5*time.Second),
		BridgeTarget:   getEnv("BRIDGE_TARGET", "http://localhost:8080"),

		FeedMode:    getEnv("FEED_MODE", "sim"),
		FeedBaseURL: getEnv("FEED_BASE_URL", ""),
		SimSeed:     int64(getInt("SIM_SEED", 42)),

		Instruments: getEnv("INSTRUMENTS", "EURUSD:0.0001:10:0.01,GBPUSD:0.0001:10:0.01,USDJPY:0.01:9.2:0.01"),

		TraderEnabled:  getBool("TRADER_ENABLED", false),
		TraderUser:     getEnv("TRADER_USER", "paper"),
		TraderMagic:    int64(getInt("TRADER_MAGIC", 1001)),
		TraderSymbol:   getEnv("TRADER_SYMBOL", "EURUSD"),
		ScoreThreshold: getFloat("SCORE_THRESHOLD", 15),
		MartinBaseLot:  getFloat("MARTIN_BASE_LOT", 0.01),
		MartinTarget:   getFloat("MARTIN_TARGET", 50),
		MartinMaxSteps: getInt("MARTIN_MAX_STEPS", 7),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		BridgeCommand: getEnv("BRIDGE_COMMAND", "./bridge"),
		RestartDelay:  getDuration("RESTART_DELAY", 10*time.Second),
		CrashLogPath:  getEnv("CRASH_LOG_PATH", "data/bridge_crash.log"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.FeedMode == "api" {
		cfg.FeedBaseURL = mustEnv("FEED_BASE_URL")
		cfg.FeedClientCode = mustEnv("FEED_CLIENT_CODE")
		cfg.FeedPassword = mustEnv("FEED_PASSWORD")
		cfg.FeedTOTPSecret = mustEnv("FEED_TOTP_SECRET")
	}
	return cfg
}

// ParseWatchlist splits the watch-list into an ordered symbol slice.
func (c *Config) ParseWatchlist() []string {
	parts := strings.Split(c.Watchlist, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}

// ParseInstruments parses the instrument table. Each entry is
// "SYMBOL:point:tick_value:lot_step"; malformed entries are skipped.
func (c *Config) ParseInstruments() map[string]model.InstrumentInfo {
	out := make(map[string]model.InstrumentInfo)
	for _, entry := range strings.Split(c.Instruments, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 4 {
			log.Printf("[config] skipping malformed instrument entry: %q", entry)
			continue
		}
		point, err1 := strconv.ParseFloat(fields[1], 64)
		tickValue, err2 := strconv.ParseFloat(fields[2], 64)
		lotStep, err3 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			log.Printf("[config] skipping malformed instrument entry: %q", entry)
			continue
		}
		out[fields[0]] = model.InstrumentInfo{
			Symbol:    fields[0],
			Point:     point,
			TickValue: tickValue,
			LotStep:   lotStep,
		}
	}
	return out
}

// ParseBridgeCommand splits the supervised command line into argv.
func (c *Config) ParseBridgeCommand() []string {
	return strings.Fields(c.BridgeCommand)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid integer for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
