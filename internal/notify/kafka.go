package notify

import (
	"context"
	"fmt"

	pkgkafka "github.com/utafrali/authority/pkg/kafka"
	"github.com/utafrali/authority/pkg/logger"
)

// TopicNotificationRequested carries messages for an external mail service.
var TopicNotificationRequested = pkgkafka.Topic("notification", "requested")

// Publisher is satisfied by *pkgkafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// EventDispatcher hands messages to Kafka for delivery by a notification
// service.
type EventDispatcher struct {
	publisher Publisher
}

// NewEventDispatcher creates a Kafka-backed dispatcher.
func NewEventDispatcher(p Publisher) *EventDispatcher {
	return &EventDispatcher{publisher: p}
}

// Name returns the transport name.
func (d *EventDispatcher) Name() string { return "kafka" }

// Send publishes msg keyed by the principal ID.
func (d *EventDispatcher) Send(ctx context.Context, msg Message) error {
	event, err := pkgkafka.NewEvent(TopicNotificationRequested,
		pkgkafka.Aggregate{ID: msg.PrincipalID, Type: "principal"}, msg,
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.WithMetadata("purpose", string(msg.Purpose)),
	)
	if err != nil {
		return fmt.Errorf("create notification event: %w", err)
	}

	if err := d.publisher.Publish(ctx, TopicNotificationRequested, event); err != nil {
		return fmt.Errorf("publish notification event: %w", err)
	}
	return nil
}
