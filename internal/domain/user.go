package domain

import (
	"context"
	"fmt"
	"strings"
)

type User struct {
	ID          string `bson:"_id" json:"id"`
	Username    string `bson:"username" json:"username"`
	DisplayName string `bson:"display_name,omitempty" json:"display_name,omitempty"`
}

// UserRepository is kept in sync from verified token claims; user
// registration itself lives outside this service.
type UserRepository interface {
	Upsert(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// FindExisting returns the subset of ids that are known users.
	FindExisting(ctx context.Context, ids []string) ([]string, error)
}

func NewUser(id, username string) (*User, error) {
	if err := validateID("user id", id); err != nil {
		return nil, err
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = id
	}

	return &User{ID: id, Username: username}, nil
}

func validateID(field, id string) error {
	if err := idValidator(field)(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
