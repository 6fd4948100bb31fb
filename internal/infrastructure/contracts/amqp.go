package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/domain"
)

const (
	// DefaultExchange is the topic exchange every process publishes to and
	// binds its fanout queue on.
	DefaultExchange = "messages"
	ExchangeKind    = "topic"

	routingPrefix = "conversation"
	typePrefix    = "message."
)

// EventKind is the lifecycle event of a message.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventEdited    EventKind = "edited"
	EventDeleted   EventKind = "deleted"
	EventDelivered EventKind = "delivered"
	EventSeen      EventKind = "seen"
)

// AllEvents in routing order.
var AllEvents = []EventKind{EventCreated, EventEdited, EventDeleted, EventDelivered, EventSeen}

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrInvalidRoutingKey = errors.New("invalid routing key")
	ErrUnknownEvent      = errors.New("unknown event kind")
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventEdited, EventDeleted, EventDelivered, EventSeen:
		return true
	}
	return false
}

// Type is the wire "type" field, e.g. "message.created".
func (k EventKind) Type() string {
	return typePrefix + string(k)
}

func KindFromType(t string) (EventKind, error) {
	kind, ok := strings.CutPrefix(t, typePrefix)
	if !ok || !EventKind(kind).Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, t)
	}
	return EventKind(kind), nil
}

// RoutingKey builds conversation.<conversationID>.<kind>.
func RoutingKey(conversationID string, kind EventKind) string {
	return routingPrefix + "." + conversationID + "." + string(kind)
}

// RoutingPattern matches the kind for any conversation.
func RoutingPattern(kind EventKind) string {
	return routingPrefix + ".*." + string(kind)
}

// DefaultPatterns binds one pattern per event kind.
func DefaultPatterns() []string {
	patterns := make([]string, 0, len(AllEvents))
	for _, kind := range AllEvents {
		patterns = append(patterns, RoutingPattern(kind))
	}
	return patterns
}

func ParseRoutingKey(key string) (conversationID string, kind EventKind, err error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != routingPrefix {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRoutingKey, key)
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", "", fmt.Errorf("%w: conversation id %q", ErrInvalidRoutingKey, parts[1])
	}
	if !EventKind(parts[2]).Valid() {
		return "", "", fmt.Errorf("%w: event %q", ErrInvalidRoutingKey, parts[2])
	}
	return parts[1], EventKind(parts[2]), nil
}

// MatchRoutingKey applies AMQP topic semantics: "*" matches exactly one
// segment, "#" matches zero or more.
func MatchRoutingKey(pattern, key string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchSegments(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			for i := 0; i <= len(key); i++ {
				if matchSegments(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

// Envelope is the wire wrapper published on the exchange and written to
// WebSocket clients unchanged.
type Envelope struct {
	Type    string         `json:"type"`
	Payload domain.Message `json:"payload"`
}

func NewEnvelope(kind EventKind, msg domain.Message) Envelope {
	return Envelope{Type: kind.Type(), Payload: msg}
}

func (e Envelope) Kind() (EventKind, error) {
	return KindFromType(e.Type)
}

// DecodeEnvelope parses and validates raw bytes. Every failure wraps
// ErrMalformedEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, EventKind, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	kind, err := env.Kind()
	if err != nil {
		return Envelope{}, "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if _, err := uuid.Parse(env.Payload.ConversationID); err != nil {
		return Envelope{}, "", fmt.Errorf("%w: conversation_id: %v", ErrMalformedEnvelope, err)
	}
	if env.Payload.ID == "" {
		return Envelope{}, "", fmt.Errorf("%w: missing message id", ErrMalformedEnvelope)
	}

	return env, kind, nil
}
