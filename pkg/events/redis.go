package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/salelink/pkg/logging"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// RedisPublisher publishes events on Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client *redis.Client, logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger.With(logging.Component("event_publisher"), logging.F("transport", "redis")),
	}
}

// DialRedis connects, pings and returns a publisher.
func DialRedis(ctx context.Context, cfg RedisConfig, logger logging.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisPublisher(client, logger), nil
}

// Publish serialises and publishes an event.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event", logging.Err(err), logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
