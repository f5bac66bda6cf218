// Package redis publishes live composite scores and ticks for external
// consumers (dashboards, downstream strategies). Publishing is optional:
// the decision server runs fine without a Redis instance.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	scoreStreamMaxLen = 10000
	defaultLatestTTL  = 30 * time.Minute
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// Circuit breaker thresholds; zero values mean 5 failures / 10s reset.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Publisher writes score and tick updates to Redis behind a circuit
// breaker. When the breaker is open, publishes are dropped: the latest-value
// keys are refreshed every push anyway, so stale retries have no value.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// New creates a publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{
		client:  client,
		breaker: NewCircuitBreaker(maxFailures, resetTimeout),
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker for metrics wiring.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// PublishScore writes one score update: SET the latest key, XADD to the
// symbol's score stream, PUBLISH for live subscribers, all in one pipeline
// roundtrip. Returns ErrCircuitOpen while the breaker is open.
func (p *Publisher) PublishScore(ctx context.Context, symbol string, score model.CompositeScore) error {
	jsonData := string(score.JSON())
	return p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, "score:latest:"+symbol, jsonData, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "score:" + symbol,
			MaxLen: scoreStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, "pub:score:"+symbol, jsonData)
		_, err := pipe.Exec(ctx)
		if err != nil {
			log.Printf("[redis] score pipeline error for %s: %v", symbol, err)
		}
		return err
	})
}

// PublishTick refreshes the latest-tick key and notifies subscribers.
func (p *Publisher) PublishTick(ctx context.Context, tick model.Tick) error {
	jsonData := string(tick.JSON())
	return p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, "tick:latest:"+tick.Symbol, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, "pub:tick:"+tick.Symbol, jsonData)
		_, err := pipe.Exec(ctx)
		if err != nil {
			log.Printf("[redis] tick pipeline error for %s: %v", tick.Symbol, err)
		}
		return err
	})
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
