package memory

import (
	"context"
	"sync"

	"github.com/hilthontt/courier/internal/domain"
)

// ConversationRepository serves both conversations and their participants so
// a conversation and its initial members are stored atomically.
type ConversationRepository struct {
	conversations map[string]domain.Conversation
	participants  map[string][]domain.Participant // conversationID -> participants
	order         []string
	mu            *sync.RWMutex
}

var (
	_ domain.ConversationRepository = (*ConversationRepository)(nil)
	_ domain.ParticipantRepository  = (*ConversationRepository)(nil)
)

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		conversations: make(map[string]domain.Conversation),
		participants:  make(map[string][]domain.Participant),
		mu:            &sync.RWMutex{},
	}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation, participants []domain.Participant) error {
	if conversation == nil || conversation.ID == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conversations[conversation.ID]; exists {
		return domain.ErrInvalidInput
	}

	r.conversations[conversation.ID] = *conversation
	r.participants[conversation.ID] = append([]domain.Participant(nil), participants...)
	r.order = append(r.order, conversation.ID)
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conversation, ok := r.conversations[id]
	if !ok || conversation.Deleted {
		return nil, domain.ErrConversationNotFound
	}
	return &conversation, nil
}

// ListForUser returns the user's live conversations, most recent first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Conversation{}
	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		conversation := r.conversations[id]
		if conversation.Deleted {
			continue
		}
		for _, p := range r.participants[id] {
			if p.UserID == userID {
				out = append(out, conversation)
				break
			}
		}
	}
	return out, nil
}

func (r *ConversationRepository) Get(ctx context.Context, conversationID, userID string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.participants[conversationID] {
		if p.UserID == userID {
			participant := p
			return &participant, nil
		}
	}
	return nil, domain.ErrParticipantNotFound
}

func (r *ConversationRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := r.participants[conversationID]
	cpy := make([]domain.Participant, len(participants))
	copy(cpy, participants)
	return cpy, nil
}
