// Package db owns the MongoDB client lifecycle.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	UsersCollection         = "users"
	ConversationsCollection = "conversations"
	ParticipantsCollection  = "participants"
	MessagesCollection      = "messages"

	DefaultDatabase          = "courier"
	DefaultConnectionTimeout = 20 * time.Second

	appName           = "courier"
	disconnectTimeout = 10 * time.Second
)

type MongoConfig struct {
	URI               string
	Database          string
	ConnectionTimeout time.Duration
	MaxPoolSize       uint64
}

func (c MongoConfig) withDefaults() (MongoConfig, error) {
	if c.URI == "" {
		return c, fmt.Errorf("mongodb URI is required")
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	return c, nil
}

// Mongo pairs a connected client with the database every repository uses.
type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
	timeout  time.Duration
}

// Connect dials and pings the primary; a client that cannot reach it is
// disconnected before returning.
func Connect(ctx context.Context, cfg *MongoConfig) (*Mongo, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mongodb config is required")
	}
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(c.URI).
		SetAppName(appName).
		SetServerSelectionTimeout(c.ConnectionTimeout).
		SetConnectTimeout(c.ConnectionTimeout)
	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.ConnectionTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	m := &Mongo{Client: client, Database: client.Database(c.Database), timeout: c.ConnectionTimeout}
	if err := m.Ping(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.Client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return nil
}

func (m *Mongo) Disconnect(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}
