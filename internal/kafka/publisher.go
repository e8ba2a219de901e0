package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-marketplace/internal/marketplace"
)

const envelopeVersion = 1

// MessagePublisher is satisfied by *Producer.
type MessagePublisher interface {
	Publish(ctx context.Context, m kafka.Message) error
}

// EventPublisher wraps domain events in the envelope and routes them to the
// topic of their type, keyed by order id.
type EventPublisher struct {
	Out     MessagePublisher
	Service string
	Now     func() time.Time
}

func (p *EventPublisher) Emit(ctx context.Context, eventType, orderID string, payload any) error {
	topic := marketplace.TopicFor(eventType)
	if topic == "" {
		return fmt.Errorf("no topic for event type %q", eventType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ev := marketplace.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    now().UTC(),
		Producer:      p.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.Out.Publish(ctx, kafka.Message{
		Topic: topic,
		Key:   marketplace.PartitionKey(orderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
		},
	})
}

var _ marketplace.EventSink = (*EventPublisher)(nil)
