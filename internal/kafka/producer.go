package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/model"
)

const (
	EventContactCreated  = "contact.created"
	EventContactUpdated  = "contact.updated"
	EventContactAssigned = "contact.assigned"
	EventContactDeleted  = "contact.deleted"
)

// ContactEventProducer publishes contact lifecycle events; swapped for a fake in tests.
type ContactEventProducer interface {
	ProduceContactEvent(ctx context.Context, event string, c *model.Contact)
}

// ContactEvent is the message body. Admin notes never leave the service.
type ContactEvent struct {
	Event       string     `json:"event"`
	ID          uint64     `json:"id"`
	ContactID   string     `json:"contact_id"`
	Email       string     `json:"email"`
	Service     string     `json:"service"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	SLADeadline time.Time  `json:"sla_deadline"`
	HandledBy   *uint64    `json:"handled_by,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func NewContactEvent(event string, c *model.Contact, at time.Time) ContactEvent {
	ev := ContactEvent{
		Event:       event,
		ID:          c.ID,
		ContactID:   c.ContactID,
		Email:       c.Email,
		Service:     c.Service,
		Status:      string(c.Status),
		Priority:    string(c.Priority),
		SLADeadline: c.SLADeadline,
		HandledBy:   c.HandledBy,
		OccurredAt:  at,
	}
	if c.DeletedAt.Valid {
		t := c.DeletedAt.Time
		ev.DeletedAt = &t
	}
	return ev
}

// Producer writes contact events to a Kafka topic (best-effort, never blocks the API on failure).
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *zap.Logger
}

// NewProducer returns a no-op producer when brokers or topic are empty.
func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceContactEvent keys messages by contact_id so one contact's events stay ordered.
func (p *Producer) ProduceContactEvent(ctx context.Context, event string, c *model.Contact) {
	if p.writer == nil {
		return
	}
	body, err := json.Marshal(NewContactEvent(event, c, time.Now().UTC()))
	if err != nil {
		p.log.Error("kafka: marshal contact event", zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.ContactID), Value: body}); err != nil {
		p.log.Warn("kafka: write contact event", zap.String("event", event), zap.String("contact_id", c.ContactID), zap.Error(err))
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
