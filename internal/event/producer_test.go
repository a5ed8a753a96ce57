package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authority/internal/domain"
	pkgkafka "github.com/utafrali/authority/pkg/kafka"
	"github.com/utafrali/authority/pkg/logger"
)

type published struct {
	topic string
	event *pkgkafka.Event
}

type recordingPublisher struct {
	events []published
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, published{topic: topic, event: event})
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTopics(t *testing.T) {
	assert.Equal(t, "auth.principal.registered", TopicPrincipalRegistered)
	assert.Equal(t, "auth.principal.verified", TopicPrincipalVerified)
	assert.Equal(t, "auth.password.reset", TopicPasswordReset)
	assert.Equal(t, "auth.sessions.revoked", TopicSessionsRevoked)
}

func TestProducer_PublishPrincipalRegistered(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, discard())
	ctx := logger.WithCorrelationID(context.Background(), "corr-9")

	err := p.PublishPrincipalRegistered(ctx, &domain.Principal{ID: "p-1", Username: "alice", Email: "alice@example.com", PasswordHash: "secret"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, TopicPrincipalRegistered, ev.topic)
	assert.Equal(t, "p-1", ev.event.AggregateID)
	assert.Equal(t, AggregateTypePrincipal, ev.event.AggregateType)
	assert.Equal(t, "corr-9", ev.event.CorrelationID)
	assert.NotContains(t, string(ev.event.Data), "secret")

	var data PrincipalRegisteredData
	require.NoError(t, ev.event.DecodeData(&data))
	assert.Equal(t, PrincipalRegisteredData{ID: "p-1", Username: "alice", Email: "alice@example.com"}, data)
}

func TestProducer_PublishSessionsRevoked(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, discard())

	require.NoError(t, p.PublishSessionsRevoked(context.Background(), "p-1", "logout_all", 3))

	var data SessionsRevokedData
	require.NoError(t, pub.events[0].event.DecodeData(&data))
	assert.Equal(t, int64(3), data.Revoked)
	assert.Equal(t, "logout_all", data.Reason)
}

func TestProducer_Disabled(t *testing.T) {
	p := NewProducer(nil, discard())
	assert.NoError(t, p.PublishPrincipalVerified(context.Background(), "p-1"))

	var nilProducer *Producer
	assert.NoError(t, nilProducer.PublishPasswordReset(context.Background(), "p-1"))
}

func TestProducer_PublishError(t *testing.T) {
	p := NewProducer(&recordingPublisher{err: errors.New("no leader")}, discard())
	err := p.PublishPasswordReset(context.Background(), "p-1")
	assert.ErrorContains(t, err, "publish auth.password.reset event")
}
