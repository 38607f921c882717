// Package notify publishes project status changes to RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"siteline/internal/domain"
)

// RoutingKeyStatusChanged is the routing key of every status change message.
const RoutingKeyStatusChanged = "project.status.changed"

// StatusChanged is the message body published when a project's status moves.
type StatusChanged struct {
	ProjectID   string        `json:"project_id"`
	ProjectCode string        `json:"project_code"`
	From        domain.Status `json:"from"`
	To          domain.Status `json:"to"`
	Confidence  int           `json:"confidence"`
	Reason      string        `json:"reason"`
	Source      string        `json:"source"`
	At          time.Time     `json:"at"`
}

// Notifier receives status changes after they are stored.
type Notifier interface {
	StatusChanged(ctx context.Context, msg StatusChanged) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) StatusChanged(context.Context, StatusChanged) error { return nil }

// Publisher sends status changes to a durable topic exchange.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger

	mu sync.Mutex
}

// NewPublisher dials url and declares the exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// New returns a Publisher when url is set and Nop otherwise.
func New(url, exchange string, logger *zap.Logger) (Notifier, func(), error) {
	if url == "" {
		return Nop{}, func() {}, nil
	}
	p, err := NewPublisher(url, exchange, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) StatusChanged(ctx context.Context, msg StatusChanged) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKeyStatusChanged,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.At,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKeyStatusChanged, err)
	}
	p.logger.Debug("published status change",
		zap.String("project_code", msg.ProjectCode),
		zap.String("from", string(msg.From)),
		zap.String("to", string(msg.To)),
	)
	return nil
}
