package conversation

import (
	"context"
	"fmt"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
)

type ConversationUseCase interface {
	// Register records the caller from verified token claims.
	Register(ctx context.Context, userID, username string) (*domain.User, error)
	CreateDirect(ctx context.Context, creatorID, title, otherID string) (*domain.Conversation, error)
	CreateGroup(ctx context.Context, creatorID, title string, participantIDs []string) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error)
}

type conversationUseCase struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	logger        logging.Logger
}

func NewConversationUseCase(
	users domain.UserRepository,
	conversations domain.ConversationRepository,
	logger logging.Logger,
) ConversationUseCase {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &conversationUseCase{
		users:         users,
		conversations: conversations,
		logger:        logger,
	}
}

func (uc *conversationUseCase) Register(ctx context.Context, userID, username string) (*domain.User, error) {
	user, err := domain.NewUser(userID, username)
	if err != nil {
		return nil, err
	}
	if err := uc.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

func (uc *conversationUseCase) CreateDirect(ctx context.Context, creatorID, title, otherID string) (*domain.Conversation, error) {
	conversation, participants, err := domain.NewDirectConversation(title, creatorID, otherID)
	if err != nil {
		return nil, err
	}

	if _, err := uc.users.GetByID(ctx, otherID); err != nil {
		return nil, fmt.Errorf("%w: adding a non-existing user", domain.ErrInvalidInput)
	}

	if err := uc.conversations.Create(ctx, conversation, participants); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	uc.logger.Info(logging.General, logging.ExternalService, "conversation created", map[logging.ExtraKey]any{
		logging.ConversationID: conversation.ID,
		logging.UserID:         creatorID,
	})
	return conversation, nil
}

// CreateGroup makes the creator an admin. Every participant id must belong
// to a known user.
func (uc *conversationUseCase) CreateGroup(ctx context.Context, creatorID, title string, participantIDs []string) (*domain.Conversation, error) {
	conversation, participants, err := domain.NewGroupConversation(title, creatorID, participantIDs)
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(participants)-1)
	for _, p := range participants[1:] {
		members = append(members, p.UserID)
	}

	existing, err := uc.users.FindExisting(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("failed to look up participants: %w", err)
	}
	if len(existing) != len(members) {
		return nil, fmt.Errorf("%w: adding non-existing users", domain.ErrInvalidInput)
	}

	if err := uc.conversations.Create(ctx, conversation, participants); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	uc.logger.Info(logging.General, logging.ExternalService, "group created", map[logging.ExtraKey]any{
		logging.ConversationID: conversation.ID,
		logging.UserID:         creatorID,
		"participants":         len(participants),
	})
	return conversation, nil
}

func (uc *conversationUseCase) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	conversations, err := uc.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}
