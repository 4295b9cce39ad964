// Package events publishes LeadPilot domain events to RabbitMQ so external
// consumers (CRM sync, notification fan-out) can react without polling the
// database. Publishing is best effort; callers log and continue on failure.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/rabbitmq/amqp091-go"
)

// Constants for event publishing configuration
const (
	// DefaultExchange is the topic exchange all domain events go through.
	DefaultExchange = "leadpilot.events"
	// KeyLeadCreated is the routing key for new lead events.
	KeyLeadCreated = "lead.created"
	// KeyBroadcastFinished is the routing key for completed broadcast events.
	KeyBroadcastFinished = "broadcast.finished"
)

// LeadCreatedEvent is the payload published under KeyLeadCreated.
type LeadCreatedEvent struct {
	TenantID  int64       `json:"tenant_id"`
	UserID    string      `json:"user_id"`
	Lead      models.Lead `json:"lead"`
	CreatedAt time.Time   `json:"created_at"`
}

// BroadcastFinishedEvent is the payload published under KeyBroadcastFinished.
type BroadcastFinishedEvent struct {
	JobID      string    `json:"job_id"`
	TenantID   int64     `json:"tenant_id"`
	Recipients int       `json:"recipients"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher emits domain events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	LeadCreated(ctx context.Context, event LeadCreatedEvent) error
	BroadcastFinished(ctx context.Context, event BroadcastFinishedEvent) error
	Close() error
}

// RabbitPublisher publishes events to a durable RabbitMQ topic exchange.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewRabbitPublisher dials the broker and declares the exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	slog.Info("RabbitPublisher connected", "exchange", exchange)
	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

// LeadCreated publishes a lead.created event.
func (p *RabbitPublisher) LeadCreated(ctx context.Context, event LeadCreatedEvent) error {
	return p.publish(ctx, KeyLeadCreated, event)
}

// BroadcastFinished publishes a broadcast.finished event.
func (p *RabbitPublisher) BroadcastFinished(ctx context.Context, event BroadcastFinishedEvent) error {
	return p.publish(ctx, KeyBroadcastFinished, event)
}

func (p *RabbitPublisher) publish(ctx context.Context, key string, payload any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", key, err)
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	slog.Debug("RabbitPublisher event published", "key", key, "exchange", p.exchange)
	return nil
}

// Close closes the broker connection.
func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}

// NopPublisher discards all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) LeadCreated(ctx context.Context, event LeadCreatedEvent) error { return nil }

func (NopPublisher) BroadcastFinished(ctx context.Context, event BroadcastFinishedEvent) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

// MockPublisher records events for tests.
type MockPublisher struct {
	Leads      []LeadCreatedEvent
	Broadcasts []BroadcastFinishedEvent
	Err        error
}

func (m *MockPublisher) LeadCreated(ctx context.Context, event LeadCreatedEvent) error {
	if m.Err != nil {
		return m.Err
	}
	m.Leads = append(m.Leads, event)
	return nil
}

func (m *MockPublisher) BroadcastFinished(ctx context.Context, event BroadcastFinishedEvent) error {
	if m.Err != nil {
		return m.Err
	}
	m.Broadcasts = append(m.Broadcasts, event)
	return nil
}

func (m *MockPublisher) Close() error { return nil }
