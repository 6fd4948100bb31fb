package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/workpool"
	"github.com/hilthontt/courier/internal/infrastructure/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, kind contracts.EventKind, conversationID string) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(contracts.NewEnvelope(kind, newMessage(conversationID)))
	require.NoError(t, err)
	return raw, contracts.RoutingKey(conversationID, kind)
}

func TestResolveReturnsIntentPerParticipant(t *testing.T) {
	participants := newParticipantTable()
	conversationID := uuid.NewString()
	participants.add(conversationID, "alice", "bob", "carol")

	bridge := NewBridge(participants, ws.NewRegistry(nil, nil), workpool.New(2), nil, nil)
	raw, key := encode(t, contracts.EventEdited, conversationID)

	intents, err := bridge.Resolve(context.Background(), key, raw)
	require.NoError(t, err)
	require.Len(t, intents, 3)

	users := make([]string, 0, len(intents))
	for _, in := range intents {
		users = append(users, in.UserID)
		assert.Equal(t, "message.edited", in.Frame.Type)
		assert.Equal(t, conversationID, in.Frame.Payload.ConversationID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, users)
}

func TestResolveRejectsMalformedPayloads(t *testing.T) {
	participants := newParticipantTable()
	bridge := NewBridge(participants, ws.NewRegistry(nil, nil), nil, nil, nil)
	conversationID := uuid.NewString()
	raw, _ := encode(t, contracts.EventCreated, conversationID)

	tests := []struct {
		name string
		key  string
		raw  []byte
	}{
		{"not json", contracts.RoutingKey(conversationID, contracts.EventCreated), []byte("{oops")},
		{"unknown type", contracts.RoutingKey(conversationID, contracts.EventCreated), []byte(`{"type":"message.burned","payload":{}}`)},
		{"other conversation", contracts.RoutingKey(uuid.NewString(), contracts.EventCreated), raw},
		{"other kind", contracts.RoutingKey(conversationID, contracts.EventSeen), raw},
		{"bad key", "conversation.x", raw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bridge.Resolve(context.Background(), tt.key, tt.raw)
			assert.ErrorIs(t, err, contracts.ErrMalformedEnvelope)
		})
	}
}

func TestHandleDeliversOnlyToLocalConnections(t *testing.T) {
	participants := newParticipantTable()
	conversationID := uuid.NewString()
	participants.add(conversationID, "alice", "bob")

	registry := ws.NewRegistry(nil, nil)
	alice := &recorder{}
	registry.Connect("alice", alice)

	bridge := NewBridge(participants, registry, nil, nil, nil)
	raw, key := encode(t, contracts.EventCreated, conversationID)

	require.NoError(t, bridge.Handle(context.Background(), Delivery{RoutingKey: key, Body: raw}))
	require.Len(t, alice.received(), 1)
	assert.Equal(t, "message.created", alice.received()[0].Type)
}

func TestHandleWithNoLocalRecipients(t *testing.T) {
	participants := newParticipantTable()
	conversationID := uuid.NewString()
	participants.add(conversationID, "alice", "bob")

	registry := ws.NewRegistry(nil, nil)
	bridge := NewBridge(participants, registry, nil, nil, nil)
	raw, key := encode(t, contracts.EventDeleted, conversationID)

	intents, err := bridge.Resolve(context.Background(), key, raw)
	require.NoError(t, err)
	assert.Equal(t, Report{Absent: 2}, bridge.Deliver(intents))

	assert.NoError(t, bridge.Handle(context.Background(), Delivery{RoutingKey: key, Body: raw}))
}

func TestHandleTreatsMalformedAsHandled(t *testing.T) {
	bridge := NewBridge(newParticipantTable(), ws.NewRegistry(nil, nil), nil, nil, nil)
	assert.NoError(t, bridge.Handle(context.Background(), Delivery{Body: []byte("garbage")}))
}

func TestHandleReturnsLookupFailure(t *testing.T) {
	participants := newParticipantTable()
	participants.err = errors.New("database unavailable")
	bridge := NewBridge(participants, ws.NewRegistry(nil, nil), nil, nil, nil)
	raw, key := encode(t, contracts.EventSeen, uuid.NewString())

	err := bridge.Handle(context.Background(), Delivery{RoutingKey: key, Body: raw})
	assert.ErrorContains(t, err, "database unavailable")
}

func TestDeliverCountsFailures(t *testing.T) {
	registry := ws.NewRegistry(nil, nil)
	registry.Connect("alice", &recorder{})
	registry.Connect("bob", failingTransport{})

	bridge := NewBridge(newParticipantTable(), registry, nil, nil, nil)
	env := contracts.NewEnvelope(contracts.EventSeen, newMessage(uuid.NewString()))

	report := bridge.Deliver([]Intent{
		{UserID: "alice", Frame: env},
		{UserID: "bob", Frame: env},
		{UserID: "carol", Frame: env},
	})
	assert.Equal(t, Report{Delivered: 1, Absent: 1, Failed: 1}, report)
}

type failingTransport struct{}

func (failingTransport) Send(any) error          { return ws.ErrSendBufferFull }
func (failingTransport) Close(int, string) error { return nil }
