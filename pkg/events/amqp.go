package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/otherjamesbrown/salelink/pkg/logging"
)

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL          string `yaml:"-"`
	Exchange     string `yaml:"exchange"`
	ExchangeType string `yaml:"exchange_type"`
	Durable      bool   `yaml:"durable"`
}

// DefaultAMQPConfig publishes to a durable "salelink.events" topic exchange.
func DefaultAMQPConfig() AMQPConfig {
	return AMQPConfig{Exchange: "salelink.events", ExchangeType: amqp.ExchangeTopic, Durable: true}
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to an exchange, routed by channel name.
type AMQPPublisher struct {
	cfg     AMQPConfig
	conn    *amqp.Connection
	channel amqpChannel
	logger  logging.Logger
}

// DialAMQP connects, declares the exchange and returns a publisher.
func DialAMQP(cfg AMQPConfig, logger logging.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeTopic
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, cfg.Durable, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", cfg.Exchange, err)
	}

	p := newAMQPPublisher(cfg, ch, logger)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(cfg AMQPConfig, ch amqpChannel, logger logging.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		cfg:     cfg,
		channel: ch,
		logger:  logger.With(logging.Component("event_publisher"), logging.F("transport", "amqp")),
	}
}

// Publish serialises the event and publishes it with the channel as routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	}
	if base, ok := baseOf(event); ok {
		msg.MessageId = base.EventID
		msg.Type = base.EventType
		msg.Timestamp = base.Timestamp
	}

	if err := p.channel.PublishWithContext(ctx, p.cfg.Exchange, channel, false, false, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Err(err), logging.F("routing_key", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	p.logger.Debug("Event published", logging.F("routing_key", channel), logging.F("payload_size", len(data)))
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func baseOf(event interface{}) (BaseEvent, bool) {
	switch e := event.(type) {
	case ReconcileProgressEvent:
		return e.BaseEvent, true
	case ReconcileCompletedEvent:
		return e.BaseEvent, true
	case StatusAuditEvent:
		return e.BaseEvent, true
	case ResearchEntryEvent:
		return e.BaseEvent, true
	case SaleChangedEvent:
		return e.BaseEvent, true
	}
	return BaseEvent{}, false
}
