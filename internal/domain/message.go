package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/infrastructure/validate"
)

const MaxBodyLength = 10000

// Message is the persisted message and also the payload snapshot carried in
// every broker envelope.
type Message struct {
	ID             string     `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	SenderID       string     `bson:"sender_id" json:"sender_id"`
	Body           string     `bson:"body" json:"body"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	EditedAt       *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Edited         bool       `bson:"edited" json:"edited"`
	Deleted        bool       `bson:"deleted" json:"deleted"`
}

type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	Update(ctx context.Context, message *Message) error
	// ListByConversation returns messages newest first.
	ListByConversation(ctx context.Context, conversationID string, excludeDeleted bool) ([]Message, error)
}

var bodyValidator = validate.Field("body", validate.Required(), validate.MaxLength(MaxBodyLength))

func NewMessage(conversationID, senderID, body string, now time.Time) (*Message, error) {
	if err := validateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	if err := validateID("sender id", senderID); err != nil {
		return nil, err
	}
	if err := bodyValidator(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now.UTC(),
	}, nil
}

func (m *Message) Edit(body string, now time.Time) error {
	if m.Deleted {
		return fmt.Errorf("%w: message is deleted", ErrInvalidInput)
	}
	if err := bodyValidator(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	at := now.UTC()
	m.Body = body
	m.Edited = true
	m.EditedAt = &at
	return nil
}

func (m *Message) MarkDeleted() {
	m.Deleted = true
}
