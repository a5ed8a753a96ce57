package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/authority/internal/domain"
	pkgkafka "github.com/utafrali/authority/pkg/kafka"
	"github.com/utafrali/authority/pkg/logger"
)

// Kafka topics for principal lifecycle events.
var (
	TopicPrincipalRegistered = pkgkafka.Topic("principal", "registered")
	TopicPrincipalVerified   = pkgkafka.Topic("principal", "verified")
	TopicPasswordReset       = pkgkafka.Topic("password", "reset")
	TopicSessionsRevoked     = pkgkafka.Topic("sessions", "revoked")
)

// AggregateTypePrincipal is the aggregate every event is keyed on.
const AggregateTypePrincipal = "principal"

// PrincipalRegisteredData is the payload for principal.registered.
type PrincipalRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// PrincipalVerifiedData is the payload for principal.verified.
type PrincipalVerifiedData struct {
	ID string `json:"id"`
}

// PasswordResetData is the payload for password.reset.
type PasswordResetData struct {
	ID string `json:"id"`
}

// SessionsRevokedData is the payload for sessions.revoked.
type SessionsRevokedData struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Revoked int64  `json:"revoked"`
}

// Publisher is satisfied by *pkgkafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes principal lifecycle events. A Producer without a
// publisher drops every event.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates an event producer. kafka may be nil when Kafka is disabled.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishPrincipalRegistered publishes principal.registered.
func (p *Producer) PublishPrincipalRegistered(ctx context.Context, principal *domain.Principal) error {
	return p.publish(ctx, TopicPrincipalRegistered, principal.ID, PrincipalRegisteredData{
		ID:       principal.ID,
		Username: principal.Username,
		Email:    principal.Email,
	})
}

// PublishPrincipalVerified publishes principal.verified.
func (p *Producer) PublishPrincipalVerified(ctx context.Context, principalID string) error {
	return p.publish(ctx, TopicPrincipalVerified, principalID, PrincipalVerifiedData{ID: principalID})
}

// PublishPasswordReset publishes password.reset.
func (p *Producer) PublishPasswordReset(ctx context.Context, principalID string) error {
	return p.publish(ctx, TopicPasswordReset, principalID, PasswordResetData{ID: principalID})
}

// PublishSessionsRevoked publishes sessions.revoked.
func (p *Producer) PublishSessionsRevoked(ctx context.Context, principalID, reason string, revoked int64) error {
	return p.publish(ctx, TopicSessionsRevoked, principalID, SessionsRevokedData{
		ID:      principalID,
		Reason:  reason,
		Revoked: revoked,
	})
}

func (p *Producer) publish(ctx context.Context, topic, principalID string, data any) error {
	if p == nil || p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic,
		pkgkafka.Aggregate{ID: principalID, Type: AggregateTypePrincipal}, data,
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("principal_id", principalID),
	)
	return nil
}
