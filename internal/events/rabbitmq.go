// Package events delivers import notifications to other services.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JonMunkholm/shelter/internal/core"
)

// ErrBrokerUnavailable is returned when the connection or channel has closed.
var ErrBrokerUnavailable = errors.New("broker connection is closed")

// confirmTimeout bounds the wait for a publisher confirm.
const confirmTimeout = 10 * time.Second

// RabbitConfig configures the publisher.
type RabbitConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// RabbitPublisher publishes ImportCompleted events to a topic exchange and
// waits for a publisher confirm on every message.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	key      string
	logger   *slog.Logger

	// amqp channels are not safe for concurrent publishes
	mu sync.Mutex

	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	healthy    atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
}

var _ core.Publisher = (*RabbitPublisher)(nil)

// NewRabbitPublisher dials the broker, declares the exchange and enables
// publisher confirms.
func NewRabbitPublisher(cfg RabbitConfig, logger *slog.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	p := &RabbitPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		key:        cfg.RoutingKey,
		logger:     logger,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		done:       make(chan struct{}),
	}
	p.healthy.Store(true)

	conn.NotifyClose(p.connClosed)
	ch.NotifyClose(p.chanClosed)
	go p.watch()

	logger.Info("connected to RabbitMQ", "exchange", cfg.Exchange, "routing_key", cfg.RoutingKey)
	return p, nil
}

func (p *RabbitPublisher) watch() {
	select {
	case err := <-p.connClosed:
		p.healthy.Store(false)
		p.logger.Warn("RabbitMQ connection closed", "error", err)
	case err := <-p.chanClosed:
		p.healthy.Store(false)
		p.logger.Warn("RabbitMQ channel closed", "error", err)
	case <-p.done:
	}
}

// PublishImportCompleted sends evt and blocks until the broker confirms it.
func (p *RabbitPublisher) PublishImportCompleted(ctx context.Context, evt core.ImportCompleted) error {
	if !p.healthy.Load() {
		return ErrBrokerUnavailable
	}

	msg, err := newPublishing(evt)
	if err != nil {
		return err
	}

	p.mu.Lock()
	deferred, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, p.key, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish import %s: %w", evt.ImportID, err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("publish import %s: broker nacked message", evt.ImportID)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publish import %s: publisher confirm timeout", evt.ImportID)
	}
}

// Healthy reports whether the connection and channel are open.
func (p *RabbitPublisher) Healthy() bool {
	return p.healthy.Load()
}

// Close shuts down the channel and connection.
func (p *RabbitPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.healthy.Store(false)
		p.channel.Close()
		p.conn.Close()
	})
	return nil
}

// newPublishing encodes evt as a persistent JSON message.
func newPublishing(evt core.ImportCompleted) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode import event: %w", err)
	}

	return amqp.Publishing{
		Headers: amqp.Table{
			"import_id": evt.ImportID,
			"status":    evt.Status,
		},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ImportID,
		Timestamp:    evt.FinishedAt,
		Type:         "shelter.import.completed",
		Body:         body,
	}, nil
}
