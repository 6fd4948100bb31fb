package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/courier/internal/application/usecases/conversation"
	"github.com/hilthontt/courier/internal/application/usecases/message"
	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/auth"
	"github.com/hilthontt/courier/internal/infrastructure/configs"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/events"
	"github.com/hilthontt/courier/internal/infrastructure/messaging"
	"github.com/hilthontt/courier/internal/infrastructure/messaging/messagingtest"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/hilthontt/courier/internal/infrastructure/ws"
	"github.com/hilthontt/courier/internal/persistence"
	"github.com/hilthontt/courier/internal/presentation/api"
	"github.com/hilthontt/courier/internal/presentation/handler/conversations"
	"github.com/hilthontt/courier/internal/presentation/handler/health"
	"github.com/hilthontt/courier/internal/presentation/handler/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret       = "test-secret"
	testIssuer       = "courier"
	testFrameTimeout = 500 * time.Millisecond
)

var verifier = auth.NewJWTVerifier(testSecret, testIssuer)

// node is one server process: its own broker connection, registry and
// consumer, sharing the store and broker with its peers.
type node struct {
	server   *httptest.Server
	registry *ws.Registry
}

func startNode(t *testing.T, broker *messagingtest.Broker, store *persistence.Store) *node {
	t.Helper()

	conn := messaging.NewConnection("amqp://test",
		messaging.WithDialer(broker.Dial),
		messaging.WithReconnectDelay(5*time.Millisecond),
	)
	require.NoError(t, conn.DeclareExchange(context.Background(), contracts.DefaultExchange, contracts.ExchangeKind, true))
	t.Cleanup(func() { _ = conn.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := ws.NewRegistry(nil, m)
	publisher := events.NewPublisher(conn, contracts.DefaultExchange, nil, m)
	bridge := events.NewBridge(store.Participants, registry, nil, nil, m)
	consumer := events.NewConsumer(conn, events.ConsumerConfig{RetryDelay: 5 * time.Millisecond}, nil, m)

	errs := make(chan error, 1)
	go func() { errs <- consumer.Start(context.Background(), bridge.Handle) }()
	require.Eventually(t, func() bool { return broker.Consumers(consumer.Queue()) == 1 }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, consumer.Stop(ctx))
		require.NoError(t, <-errs)
	})

	conversationUC := conversation.NewConversationUseCase(store.Users, store.Conversations, nil)
	messageUC := message.NewMessageUseCase(store.Participants, store.Messages, publisher, nil)

	handlers := api.Handlers{
		Health: health.NewHandler(health.Check{
			Name: "rabbitmq",
			Check: func(context.Context) error {
				if conn.State() != messaging.StateConnected {
					return fmt.Errorf("broker is %s", conn.State())
				}
				return nil
			},
		}),
		Conversations: conversations.NewHandler(conversationUC, messageUC, nil),
		Realtime:      realtime.NewHandler(verifier, conversationUC, messageUC, registry, nil, nil, testFrameTimeout, m, nil),
		Metrics:       metrics.Handler(reg),
	}

	app := api.NewApplication(configs.Config{}, handlers, verifier, conversationUC, nil, m, nil)
	server := httptest.NewServer(app.Mount())
	t.Cleanup(server.Close)

	return &node{server: server, registry: registry}
}

type user struct {
	id    string
	token string
}

func newUser(t *testing.T, name string) user {
	t.Helper()
	id := uuid.NewString()
	token, err := verifier.Issue(id, name, time.Hour)
	require.NoError(t, err)
	return user{id: id, token: token}
}

func (n *node) do(t *testing.T, method, path string, u *user, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, n.server.URL+path, reader)
	require.NoError(t, err)
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (n *node) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(n.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func (n *node) connect(t *testing.T, u user) *websocket.Conn {
	t.Helper()
	conn, _, err := n.dial(t, u.token)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ok, _ := n.registry.SendToUser(map[string]string{"type": "probe"}, u.id)
		return ok
	}, time.Second, time.Millisecond)

	// Consume the probe so tests only see real events.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var probe map[string]any
	require.NoError(t, conn.ReadJSON(&probe))
	require.Equal(t, "probe", probe["type"])
	_ = conn.SetReadDeadline(time.Time{})
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) contracts.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env contracts.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type conversationBody struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	IsGroup bool   `json:"is_group"`
}

func TestMessageCrossesProcesses(t *testing.T) {
	broker := messagingtest.NewBroker()
	store := persistence.NewMemoryStore(100)
	a := startNode(t, broker, store)
	b := startNode(t, broker, store)

	alice, bob := newUser(t, "alice"), newUser(t, "bob")
	bobConn := b.connect(t, bob)
	aliceConn := a.connect(t, alice)

	resp := a.do(t, http.MethodPost, "/api/conversations", &alice, map[string]string{
		"title":    "lunch",
		"other_id": bob.id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conv := decode[conversationBody](t, resp)

	require.NoError(t, aliceConn.WriteJSON(map[string]any{
		"type":    "message.create",
		"payload": map[string]string{"conversation_id": conv.ID, "body": "noon?"},
	}))

	got := readEnvelope(t, bobConn)
	assert.Equal(t, "message.created", got.Type)
	assert.Equal(t, "noon?", got.Payload.Body)
	assert.Equal(t, alice.id, got.Payload.SenderID)

	echo := readEnvelope(t, aliceConn)
	assert.Equal(t, got.Payload.ID, echo.Payload.ID)

	resp = b.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages/"+got.Payload.ID+"/seen", &bob, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "message.seen", readEnvelope(t, aliceConn).Type)

	resp = b.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", &bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]domain.Message](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "noon?", history[0].Body)
}

func TestRESTRequiresToken(t *testing.T) {
	n := startNode(t, messagingtest.NewBroker(), persistence.NewMemoryStore(10))

	resp := n.do(t, http.MethodGet, "/api/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	u := newUser(t, "carol")
	resp = n.do(t, http.MethodGet, "/api/conversations", &u, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]conversationBody](t, resp))
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	n := startNode(t, messagingtest.NewBroker(), persistence.NewMemoryStore(10))

	_, resp, err := n.dial(t, "not-a-token")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, n.registry.Len())
}

func TestWebSocketCloseCodes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		code  int
	}{
		{name: "unknown type", frame: `{"type":"message.shout","payload":{}}`, code: websocket.ClosePolicyViolation},
		{name: "not a participant", frame: `{"type":"message.create","payload":{"conversation_id":"` + uuid.NewString() + `","body":"hi"}}`, code: websocket.ClosePolicyViolation},
		{name: "schema failure", frame: `{"type":"message.create","payload":{"body":"hi"}}`, code: websocket.CloseUnsupportedData},
		{name: "not json", frame: `hello`, code: websocket.CloseUnsupportedData},
	}

	n := startNode(t, messagingtest.NewBroker(), persistence.NewMemoryStore(10))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUser(t, "dave")
			conn := n.connect(t, u)

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, tt.code, closeErr.Code)

			require.Eventually(t, func() bool { return n.registry.Len() == 0 }, time.Second, time.Millisecond)
		})
	}
}

func TestBrokerOutageClosesWithInternalErrorAndKeepsMessage(t *testing.T) {
	broker := messagingtest.NewBroker()
	n := startNode(t, broker, persistence.NewMemoryStore(10))

	alice, bob := newUser(t, "alice"), newUser(t, "bob")
	require.Equal(t, http.StatusOK, n.do(t, http.MethodGet, "/api/conversations", &bob, nil).StatusCode)

	resp := n.do(t, http.MethodPost, "/api/conversations", &alice, map[string]string{
		"title":    "outage",
		"other_id": bob.id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conv := decode[conversationBody](t, resp)

	aliceConn := n.connect(t, alice)

	broker.FailDials(-1)
	broker.Drop()

	require.NoError(t, aliceConn.WriteJSON(map[string]any{
		"type":    "message.create",
		"payload": map[string]string{"conversation_id": conv.ID, "body": "anyone there?"},
	}))

	_ = aliceConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := aliceConn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)

	resp = n.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", &alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]domain.Message](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "anyone there?", history[0].Body)
}

func TestGroupsAndHistoryPermissions(t *testing.T) {
	n := startNode(t, messagingtest.NewBroker(), persistence.NewMemoryStore(10))
	owner, member, outsider := newUser(t, "owner"), newUser(t, "member"), newUser(t, "outsider")

	// Users become known on their first authenticated request.
	for _, u := range []user{member, outsider} {
		require.Equal(t, http.StatusOK, n.do(t, http.MethodGet, "/api/conversations", &u, nil).StatusCode)
	}

	resp := n.do(t, http.MethodPost, "/api/groups/create", &owner, map[string]any{
		"title":           "crew",
		"participant_ids": []string{member.id},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[conversationBody](t, resp)
	assert.True(t, group.IsGroup)

	resp = n.do(t, http.MethodPost, "/api/groups", &owner, map[string]any{
		"title":           "ghosts",
		"participant_ids": []string{uuid.NewString()},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = n.do(t, http.MethodGet, "/api/conversations/"+group.ID+"/messages", &outsider, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = n.do(t, http.MethodGet, "/api/conversations/"+group.ID+"/messages", &member, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = n.do(t, http.MethodPost, "/api/conversations", &owner, map[string]string{
		"title":    "dm",
		"other_id": uuid.NewString(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	n := startNode(t, messagingtest.NewBroker(), persistence.NewMemoryStore(10))

	for _, path := range []string{"/api/health", "/api/healthz", "/api/live", "/api/ready"} {
		assert.Equal(t, http.StatusOK, n.do(t, http.MethodGet, path, nil, nil).StatusCode, path)
	}

	resp := n.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "courier_http_request_duration_seconds")
}
