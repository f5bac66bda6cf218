// Package server is the decision server's HTTP surface: bridge ingress,
// score/candle pull endpoints, the martingale REST API, and the WebSocket
// score feed.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/cache"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/martingale"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/metrics"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
	"github.com/escjinho/trading-x-v3.1-sub000/internal/score"
	redisstore "github.com/escjinho/trading-x-v3.1-sub000/internal/store/redis"
)

// Server wires the cache, scorer, martingale registry, and feeds together
// behind one mux.
type Server struct {
	Cache    *cache.Store
	Hub      *Hub
	Registry *martingale.Registry
	Quotes   model.QuoteProvider

	// Optional collaborators; all nil-safe.
	Publisher *redisstore.Publisher
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	// OnPositionClosed, when set, observes every close transition applied
	// through the REST surface (journal, notifications).
	OnPositionClosed func(key martingale.Key, symbol, direction string, profit float64, res martingale.CloseResult)

	// OnScore, when set, observes every freshly computed composite score
	// (paper trader, health bookkeeping).
	OnScore func(symbol string, composite model.CompositeScore)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/bridge/", s.handleBridgePush)
	mux.HandleFunc("/api/score", s.handleScore)
	mux.HandleFunc("/api/candles", s.handleCandles)
	mux.HandleFunc("/api/symbols", s.handleSymbols)

	mux.HandleFunc("/api/martin/enable", s.handleMartinEnable)
	mux.HandleFunc("/api/martin/disable", s.handleMartinDisable)
	mux.HandleFunc("/api/martin/status", s.handleMartinStatus)
	mux.HandleFunc("/api/martin/plan", s.handleMartinPlan)
	mux.HandleFunc("/api/martin/close", s.handleMartinClose)
	mux.HandleFunc("/api/martin/feasible", s.handleMartinFeasible)

	mux.HandleFunc("/ws", s.Hub.HandleWS)
	mux.HandleFunc("/health", s.handleHealth)
}

// handleBridgePush is the ingress: POST /bridge/{symbol}. It merges the
// pushed window into the cache, recomputes the composite score, and fans
// the update out to WS clients and Redis.
func (s *Server) handleBridgePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	symbol := strings.TrimPrefix(r.URL.Path, "/bridge/")
	if symbol == "" || strings.Contains(symbol, "/") {
		s.reject(w, "missing or malformed symbol")
		return
	}

	var payload model.BridgePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.reject(w, "invalid JSON: "+err.Error())
		return
	}
	if payload.Symbol != "" && payload.Symbol != symbol {
		s.reject(w, fmt.Sprintf("payload symbol %q does not match path %q", payload.Symbol, symbol))
		return
	}
	if len(payload.Candles) == 0 {
		s.reject(w, "empty candle batch")
		return
	}

	applied, stale := s.Cache.MergeCandles(symbol, payload.Candles)
	s.Cache.SetTick(symbol, payload.Tick)
	if s.Metrics != nil {
		s.Metrics.IngressRequestsTotal.WithLabelValues("accepted").Inc()
		if stale > 0 {
			s.Metrics.StaleCandlesRejected.Add(float64(stale))
		}
	}

	window := s.Cache.Window(symbol, 0)
	start := time.Now()
	composite := score.Evaluate(window)
	if s.Metrics != nil {
		s.Metrics.ScoreComputeDur.Observe(time.Since(start).Seconds())
		s.Metrics.ScoresTotal.Inc()
	}
	s.Cache.SetScore(symbol, composite)
	s.Hub.Broadcast(symbol, composite)
	s.publish(symbol, composite, payload.Tick)
	if s.OnScore != nil {
		s.OnScore(symbol, composite)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"applied": applied,
		"stale":   stale,
		"score":   composite,
	})
}

// publish pushes the update to Redis, fire and forget. The breaker absorbs
// outages; a lost score update is refreshed by the next push anyway.
func (s *Server) publish(symbol string, composite model.CompositeScore, tick model.Tick) {
	if s.Publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Publisher.PublishScore(ctx, symbol, composite); err != nil {
			if s.Metrics != nil && err != redisstore.ErrCircuitOpen {
				s.Metrics.RedisPublishErrors.Inc()
			}
			return
		}
		if tick.Symbol != "" {
			s.Publisher.PublishTick(ctx, tick)
		}
	}()
}

func (s *Server) reject(w http.ResponseWriter, reason string) {
	if s.Metrics != nil {
		s.Metrics.IngressRequestsTotal.WithLabelValues("invalid").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, `{"error":"symbol required"}`, http.StatusBadRequest)
		return
	}
	composite, ok := s.Cache.Score(symbol)
	if !ok {
		http.Error(w, `{"error":"no score for symbol"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"symbol": symbol, "score": composite})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, `{"error":"symbol required"}`, http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	candles := s.Cache.Window(symbol, limit)
	if candles == nil {
		http.Error(w, `{"error":"unknown symbol"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"symbol": symbol, "candles": candles})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"symbols": s.Cache.Symbols()})
}

// martinKeyRequest is the common (user, magic) addressing of the martingale
// API. The account boundary upstream supplies both; the server never
// authenticates.
type martinKeyRequest struct {
	User  string `json:"user"`
	Magic int64  `json:"magic"`
}

func (k martinKeyRequest) key() martingale.Key {
	return martingale.Key{User: k.User, Magic: k.Magic}
}

func (k martinKeyRequest) validate() error {
	if k.User == "" {
		return fmt.Errorf("user required")
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func keyFromQuery(r *http.Request) (martingale.Key, error) {
	user := r.URL.Query().Get("user")
	if user == "" {
		return martingale.Key{}, fmt.Errorf("user required")
	}
	magic, err := strconv.ParseInt(r.URL.Query().Get("magic"), 10, 64)
	if err != nil {
		return martingale.Key{}, fmt.Errorf("invalid magic")
	}
	return martingale.Key{User: user, Magic: magic}, nil
}

func (s *Server) handleMartinEnable(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	var req struct {
		martinKeyRequest
		BaseLot      float64 `json:"base_lot"`
		TargetAmount float64 `json:"target_amount"`
		MaxSteps     int     `json:"max_steps"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	if err := s.Registry.Enable(req.key(), req.BaseLot, req.TargetAmount, req.MaxSteps); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	s.logInfo("martingale enabled", req.User, req.Magic)
	view, _ := s.Registry.Snapshot(req.key())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Server) handleMartinDisable(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	var req martinKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	s.Registry.Disable(req.key())
	s.logInfo("martingale disabled", req.User, req.Magic)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleMartinStatus(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	key, err := keyFromQuery(r)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	view, ok := s.Registry.Snapshot(key)
	if !ok {
		http.Error(w, `{"error":"unknown key"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Server) handleMartinPlan(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	var req struct {
		martinKeyRequest
		Symbol    string `json:"symbol"`
		Direction string `json:"direction"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	dir, err := martingale.ParseDirection(req.Direction)
	if err != nil {
		http.Error(w, `{"error":"invalid direction"}`, http.StatusBadRequest)
		return
	}

	plan, enabled, err := s.Registry.ComputeOrderPlan(r.Context(), req.key(), req.Symbol, dir, s.Quotes)
	if !enabled {
		http.Error(w, `{"error":"martingale not enabled for key"}`, http.StatusConflict)
		return
	}
	if err != nil {
		// InstrumentUnavailable is non-fatal: report the reason, nothing
		// changed server-side.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

func (s *Server) handleMartinClose(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	var req struct {
		martinKeyRequest
		Symbol    string  `json:"symbol"`
		Direction string  `json:"direction"`
		Profit    float64 `json:"profit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	res, ok := s.Registry.OnPositionClosed(req.key(), req.Profit)
	if !ok {
		http.Error(w, `{"error":"martingale not enabled for key"}`, http.StatusConflict)
		return
	}
	if s.Metrics != nil {
		s.Metrics.MartinTransitionsTotal.WithLabelValues(string(res.Action)).Inc()
	}
	if s.OnPositionClosed != nil {
		s.OnPositionClosed(req.key(), req.Symbol, req.Direction, req.Profit, res)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleMartinFeasible(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	key, err := keyFromQuery(r)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	balance, err := strconv.ParseFloat(r.URL.Query().Get("balance"), 64)
	if err != nil || balance < 0 {
		http.Error(w, `{"error":"invalid balance"}`, http.StatusBadRequest)
		return
	}
	steps, required, ok := s.Registry.MaxFeasibleSteps(key, balance)
	if !ok {
		http.Error(w, `{"error":"martingale not enabled for key"}`, http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"steps":            steps,
		"required_balance": required,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"symbols":    len(s.Cache.Symbols()),
		"ws_clients": s.Hub.ClientCount(),
	})
}

func (s *Server) logInfo(msg, user string, magic int64) {
	if s.Log != nil {
		s.Log.Info(msg, slog.String("user", user), slog.Int64("magic", magic))
	}
}
