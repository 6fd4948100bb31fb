package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/domain"
)

// messageRepository keeps every message unless a capacity is set, in which
// case the oldest messages of a conversation are evicted past it. A bounded
// store loses history and is only meant for local development.
type messageRepository struct {
	messages map[string][]domain.Message // conversationID -> messages, oldest first
	index    map[string]string           // messageID -> conversationID
	capacity uint
	mu       *sync.RWMutex
}

// NewMessageRepository with capacity 0 is unbounded.
func NewMessageRepository(capacity uint) domain.MessageRepository {
	return &messageRepository{
		capacity: capacity,
		messages: make(map[string][]domain.Message),
		index:    make(map[string]string),
		mu:       &sync.RWMutex{},
	}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	if message == nil || message.ConversationID == "" {
		return domain.ErrInvalidInput
	}

	// Generate ID if not set
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := append(r.messages[message.ConversationID], *message)
	r.index[message.ID] = message.ConversationID

	if r.capacity > 0 && len(msgs) > int(r.capacity) {
		excess := len(msgs) - int(r.capacity)
		for _, evicted := range msgs[:excess] {
			delete(r.index, evicted.ID)
		}
		msgs = append([]domain.Message(nil), msgs[excess:]...)
	}

	r.messages[message.ConversationID] = msgs
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, conversationID, ok := r.locate(id)
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	msg := r.messages[conversationID][i]
	return &msg, nil
}

func (r *messageRepository) Update(ctx context.Context, message *domain.Message) error {
	if message == nil || message.ID == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, conversationID, ok := r.locate(message.ID)
	if !ok {
		return domain.ErrMessageNotFound
	}
	r.messages[conversationID][i] = *message
	return nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, excludeDeleted bool) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[conversationID]
	out := make([]domain.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if excludeDeleted && msgs[i].Deleted {
			continue
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

// locate must be called with mu held.
func (r *messageRepository) locate(id string) (int, string, bool) {
	conversationID, ok := r.index[id]
	if !ok {
		return 0, "", false
	}
	for i, msg := range r.messages[conversationID] {
		if msg.ID == id {
			return i, conversationID, true
		}
	}
	return 0, "", false
}
