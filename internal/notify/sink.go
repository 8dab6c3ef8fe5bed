package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trade-settlement-engine/internal/config"
	"trade-settlement-engine/internal/models"
)

// Sink delivers a notification to the outside world.
type Sink interface {
	Name() string
	Send(ctx context.Context, n models.Notification) error
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n models.Notification) error {
	s.logger.Info("notification",
		zap.String("user-id", n.UserID),
		zap.String("trade-id", n.TradeID),
		zap.String("kind", string(n.Kind)),
		zap.String("message", n.Message))
	return nil
}

// publisher is the part of *redis.Client the sink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Payload is the JSON message published for each notification.
type Payload struct {
	ID        string                  `json:"id"`
	UserID    string                  `json:"user_id"`
	TradeID   string                  `json:"trade_id"`
	Kind      models.NotificationKind `json:"kind"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	CreatedAt time.Time               `json:"created_at"`
}

// RedisSink publishes notifications on a Redis Pub/Sub channel.
type RedisSink struct {
	rdb     publisher
	channel string
}

// NewRedisSink connects to Redis and verifies the connection with a ping.
func NewRedisSink(ctx context.Context, cfg config.Notify) (*RedisSink, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newRedisSink(rdb, cfg.RedisChannel), rdb, nil
}

func newRedisSink(rdb publisher, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(Payload{
		ID:        n.ID,
		UserID:    n.UserID,
		TradeID:   n.TradeID,
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", n.ID, err)
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}
	return nil
}
