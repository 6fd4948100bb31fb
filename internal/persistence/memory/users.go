package memory

import (
	"context"
	"sync"

	"github.com/hilthontt/courier/internal/domain"
)

type userRepository struct {
	users map[string]domain.User
	mu    *sync.RWMutex
}

func NewUserRepository() domain.UserRepository {
	return &userRepository{
		users: make(map[string]domain.User),
		mu:    &sync.RWMutex{},
	}
}

func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[user.ID] = *user
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func (r *userRepository) FindExisting(ctx context.Context, ids []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.users[id]; ok {
			existing = append(existing, id)
		}
	}
	return existing, nil
}
