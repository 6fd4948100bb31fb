// Package persistence wires the repositories for the configured backend.
package persistence

import (
	"context"
	"fmt"

	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/persistence/db"
	"github.com/hilthontt/courier/internal/persistence/memory"
	"github.com/hilthontt/courier/internal/persistence/repository"
)

const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
)

type Store struct {
	Users         domain.UserRepository
	Conversations domain.ConversationRepository
	Participants  domain.ParticipantRepository
	Messages      domain.MessageRepository

	ping  func(context.Context) error
	close func(context.Context) error
}

func NewMemoryStore(messageCapacity uint) *Store {
	conversations := memory.NewConversationRepository()
	return &Store{
		Users:         memory.NewUserRepository(),
		Conversations: conversations,
		Participants:  conversations,
		Messages:      memory.NewMessageRepository(messageCapacity),
	}
}

func NewMongoStore(ctx context.Context, cfg *db.MongoConfig, logger logging.Logger) (*Store, error) {
	conn, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	database := conn.Database

	if err := repository.EnsureIndexes(ctx, database); err != nil {
		_ = conn.Disconnect(ctx)
		return nil, err
	}

	logger.Info(logging.MongoDB, logging.Startup, "connected to mongodb", map[logging.ExtraKey]any{
		"database": database.Name(),
	})

	return &Store{
		Users:         repository.NewUserRepository(database),
		Conversations: repository.NewConversationRepository(database),
		Participants:  repository.NewParticipantRepository(database),
		Messages:      repository.NewMessageRepository(database),
		ping:          conn.Ping,
		close:         conn.Disconnect,
	}, nil
}

// Open picks the backend by driver name.
func Open(ctx context.Context, driver string, mongoCfg *db.MongoConfig, messageCapacity uint, logger logging.Logger) (*Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(messageCapacity), nil
	case DriverMongo:
		return NewMongoStore(ctx, mongoCfg, logger)
	}
	return nil, fmt.Errorf("unsupported store driver %q", driver)
}

// Ping reports whether the backend is reachable. The memory store always is.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}
