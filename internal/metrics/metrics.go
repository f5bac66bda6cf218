package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the decision pipeline.
type Metrics struct {
	// Bridge metrics
	BridgePushesTotal    *prometheus.CounterVec // labels: status=ok|timeout|rejected
	BridgeCycleDur       prometheus.Histogram
	BridgeSymbolsSkipped prometheus.Counter
	BridgeCooldownsTotal prometheus.Counter

	// Scoring metrics
	ScoreComputeDur prometheus.Histogram
	ScoresTotal     prometheus.Counter

	// Ingress metrics
	IngressRequestsTotal *prometheus.CounterVec // labels: outcome=accepted|invalid
	StaleCandlesRejected prometheus.Counter

	// Martingale metrics
	MartinTransitionsTotal *prometheus.CounterVec // labels: action=reset|advance|max_reached
	OrdersTotal            *prometheus.CounterVec // labels: result=filled|rejected

	// WebSocket feed
	WSClients prometheus.Gauge

	// Redis publisher circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisPublishErrors       prometheus.Counter

	// SQLite warm-start persistence
	SQLiteFlushDur prometheus.Histogram

	// Supervisor
	SupervisorRestarts prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BridgePushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_pushes_total",
			Help: "Bridge payload pushes by result status",
		}, []string{"status"}),
		BridgeCycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_cycle_duration_seconds",
			Help:    "Full fan-out duration of one bridge cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		BridgeSymbolsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_symbols_skipped_total",
			Help: "Per-symbol cycle skips due to fetch/push failures",
		}),
		BridgeCooldownsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_cooldowns_total",
			Help: "Whole-cycle failures that triggered the connectivity cooldown",
		}),

		ScoreComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "decision_score_compute_duration_seconds",
			Help:    "Composite score evaluation latency per push",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		ScoresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decision_scores_total",
			Help: "Composite scores computed",
		}),

		IngressRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_ingress_requests_total",
			Help: "Bridge ingress requests by outcome",
		}, []string{"outcome"}),
		StaleCandlesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decision_stale_candles_rejected_total",
			Help: "Pushed candles dropped as stale or duplicate by the cache",
		}),

		MartinTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_martin_transitions_total",
			Help: "Martingale close transitions by action",
		}, []string{"action"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_orders_total",
			Help: "Order submissions by result",
		}, []string{"result"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decision_ws_clients",
			Help: "Connected WebSocket score-feed clients",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decision_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decision_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decision_redis_publish_errors_total",
			Help: "Failed Redis score/tick publishes",
		}),

		SQLiteFlushDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "decision_sqlite_flush_duration_seconds",
			Help:    "Candle window flush latency",
			Buckets: prometheus.DefBuckets,
		}),

		SupervisorRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supervisor_restarts_total",
			Help: "Bridge subprocess restarts performed by the supervisor",
		}),
	}

	prometheus.MustRegister(
		m.BridgePushesTotal,
		m.BridgeCycleDur,
		m.BridgeSymbolsSkipped,
		m.BridgeCooldownsTotal,
		m.ScoreComputeDur,
		m.ScoresTotal,
		m.IngressRequestsTotal,
		m.StaleCandlesRejected,
		m.MartinTransitionsTotal,
		m.OrdersTotal,
		m.WSClients,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisPublishErrors,
		m.SQLiteFlushDur,
		m.SupervisorRestarts,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastPushTime   time.Time `json:"last_push_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Symbols        []string  `json:"symbols"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPushTime(t time.Time) {
	h.mu.Lock()
	h.LastPushTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.FeedConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	pushAge := ""
	if !h.LastPushTime.IsZero() {
		pushAge = time.Since(h.LastPushTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedConnected   bool     `json:"feed_connected"`
		LastPushTime    string   `json:"last_push_time"`
		PushAge         string   `json:"push_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Symbols         []string `json:"symbols"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastPushTime:    h.LastPushTime.Format(time.RFC3339),
		PushAge:         pushAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Symbols:         h.Symbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
