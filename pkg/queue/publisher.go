package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redinc23/hathor-red-sub003/pkg/config"
	"github.com/redinc23/hathor-red-sub003/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher writes room events to a fanout exchange. A nil Publisher is a
// valid no-op, so callers never branch on whether the feed is configured.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange. Returns (nil, nil)
// when no broker URL is configured.
func NewPublisher(cfg *config.Config) (*Publisher, error) {
	if cfg.Rabbit.URL == "" {
		return nil, nil
	}

	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(cfg.Rabbit.Exchange, "fanout", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Infof("room event feed connected, exchange %s", cfg.Rabbit.Exchange)

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Rabbit.Exchange,
	}, nil
}

// Publish sends one event; failures are logged and returned, never fatal.
func (p *Publisher) Publish(ctx context.Context, event RoomEvent) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, event.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		logger.Errorf(err, "failed to publish room event %s", event.Kind)
		return err
	}

	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
