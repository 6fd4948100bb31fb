package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/infrastructure/validate"
)

const (
	MaxTitleLength       = 100
	MaxGroupParticipants = 100
)

type ParticipantRole string

const (
	RoleMember ParticipantRole = "member"
	RoleAdmin  ParticipantRole = "admin"
)

type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	IsGroup   bool      `bson:"is_group" json:"is_group"`
	Deleted   bool      `bson:"deleted" json:"deleted"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type Participant struct {
	ConversationID string          `bson:"conversation_id" json:"conversation_id"`
	UserID         string          `bson:"user_id" json:"user_id"`
	Role           ParticipantRole `bson:"role" json:"role"`
}

func (p Participant) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type ConversationRepository interface {
	// Create stores the conversation together with its initial participants.
	Create(ctx context.Context, conversation *Conversation, participants []Participant) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
}

type ParticipantRepository interface {
	Get(ctx context.Context, conversationID, userID string) (*Participant, error)
	ListByConversation(ctx context.Context, conversationID string) ([]Participant, error)
}

func idValidator(field string) validate.Validator {
	return validate.Field(field, validate.Required(), validate.UUID())
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if err := validate.Field("title", validate.Required(), validate.MaxLength(MaxTitleLength))(title); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return title, nil
}

// NewDirectConversation builds a two-party conversation. Both parties are
// plain members.
func NewDirectConversation(title, creatorID, otherID string) (*Conversation, []Participant, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, nil, err
	}
	if err := validateID("creator id", creatorID); err != nil {
		return nil, nil, err
	}
	if err := validateID("other id", otherID); err != nil {
		return nil, nil, err
	}
	if creatorID == otherID {
		return nil, nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidInput)
	}

	conversation := &Conversation{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	participants := []Participant{
		{ConversationID: conversation.ID, UserID: creatorID, Role: RoleMember},
		{ConversationID: conversation.ID, UserID: otherID, Role: RoleMember},
	}

	return conversation, participants, nil
}

// NewGroupConversation makes the creator an admin and everyone else a member.
// Duplicate ids and the creator's own id in memberIDs are ignored.
func NewGroupConversation(title, creatorID string, memberIDs []string) (*Conversation, []Participant, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, nil, err
	}
	if err := validateID("creator id", creatorID); err != nil {
		return nil, nil, err
	}
	if len(memberIDs) > MaxGroupParticipants {
		return nil, nil, fmt.Errorf("%w: at most %d participants", ErrInvalidInput, MaxGroupParticipants)
	}
	if err := validate.Each(memberIDs, idValidator("participant id")); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	conversation := &Conversation{ID: uuid.NewString(), Title: title, IsGroup: true, CreatedAt: time.Now().UTC()}
	participants := []Participant{
		{ConversationID: conversation.ID, UserID: creatorID, Role: RoleAdmin},
	}

	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, Participant{
			ConversationID: conversation.ID,
			UserID:         id,
			Role:           RoleMember,
		})
	}

	return conversation, participants, nil
}
