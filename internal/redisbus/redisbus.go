// Package redisbus fans emitted signals out over Redis: a capped stream for
// consumers that replay, and pub/sub for live listeners.
package redisbus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// DefaultStreamMaxLen is the approximate stream cap enforced via XADD MAXLEN ~.
const DefaultStreamMaxLen int64 = 10000

type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	Stream     string
	Channel    string
	MaxLen     int64
}

type commander interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Publisher struct {
	rdb     commander
	closer  func() error
	stream  string
	channel string
	maxLen  int64
}

// New connects to Redis and pings it before returning.
func New(ctx context.Context, cfg ClientConfig) (*Publisher, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	p := newWithCommander(rdb, cfg)
	p.closer = rdb.Close
	return p, nil
}

func newWithCommander(rdb commander, cfg ClientConfig) *Publisher {
	p := &Publisher{
		rdb:     rdb,
		stream:  cfg.Stream,
		channel: cfg.Channel,
		maxLen:  cfg.MaxLen,
	}
	if p.stream == "" {
		p.stream = "sitwatch:signals"
	}
	if p.channel == "" {
		p.channel = "sitwatch:signals:live"
	}
	if p.maxLen <= 0 {
		p.maxLen = DefaultStreamMaxLen
	}
	return p
}

// NotifySignals appends each signal to the stream, then publishes it.
// It stops at the first failure.
func (p *Publisher) NotifySignals(ctx context.Context, signals []models.Signal) error {
	for i := range signals {
		payload, err := json.Marshal(&signals[i])
		if err != nil {
			return fmt.Errorf("redis: marshal signal %s: %w", signals[i].ID, err)
		}

		args := &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":      signals[i].ID,
				"kind":    string(signals[i].Kind),
				"payload": payload,
			},
		}
		if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redis: stream append %s: %w", p.stream, err)
		}
		if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis: publish %s: %w", p.channel, err)
		}
	}
	return nil
}

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
