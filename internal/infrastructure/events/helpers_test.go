package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/messaging"
	"github.com/hilthontt/courier/internal/infrastructure/messaging/messagingtest"
	"github.com/stretchr/testify/require"
)

const testRetryDelay = 5 * time.Millisecond

func newBrokerConnection(t *testing.T, broker *messagingtest.Broker) *messaging.Connection {
	t.Helper()

	conn := messaging.NewConnection("amqp://test",
		messaging.WithDialer(broker.Dial),
		messaging.WithReconnectDelay(testRetryDelay),
	)
	require.NoError(t, conn.DeclareExchange(context.Background(), contracts.DefaultExchange, contracts.ExchangeKind, true))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// startConsumer runs a consumer in the background and waits until its queue
// is bound and consuming.
func startConsumer(t *testing.T, broker *messagingtest.Broker, conn *messaging.Connection, handler Handler) *Consumer {
	t.Helper()

	consumer := NewConsumer(conn, ConsumerConfig{RetryDelay: testRetryDelay}, nil, nil)
	errs := make(chan error, 1)
	go func() { errs <- consumer.Start(context.Background(), handler) }()

	require.Eventually(t, func() bool {
		return broker.Consumers(consumer.Queue()) == 1
	}, time.Second, time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, consumer.Stop(ctx))
		require.NoError(t, <-errs)
	})
	return consumer
}

func newMessage(conversationID string) domain.Message {
	return domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       uuid.NewString(),
		Body:           "hello",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

type participantTable struct {
	mu      sync.Mutex
	members map[string][]string
	err     error
}

func newParticipantTable() *participantTable {
	return &participantTable{members: make(map[string][]string)}
}

func (p *participantTable) add(conversationID string, userIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[conversationID] = append(p.members[conversationID], userIDs...)
}

func (p *participantTable) ListByConversation(_ context.Context, conversationID string) ([]domain.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	out := make([]domain.Participant, 0, len(p.members[conversationID]))
	for _, id := range p.members[conversationID] {
		out = append(out, domain.Participant{ConversationID: conversationID, UserID: id, Role: domain.RoleMember})
	}
	return out, nil
}

// recorder is a ws transport that keeps every envelope it is sent.
type recorder struct {
	mu     sync.Mutex
	frames []contracts.Envelope
}

func (r *recorder) Send(payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, payload.(contracts.Envelope))
	return nil
}

func (r *recorder) Close(int, string) error { return nil }

func (r *recorder) received() []contracts.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Envelope(nil), r.frames...)
}
