package persistence

import (
	"context"
	"testing"

	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), DriverMemory, nil, 0, logging.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, store.Users)
	assert.NotNil(t, store.Messages)
	assert.Same(t, store.Conversations, store.Participants)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close(context.Background()))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "sqlite", nil, 0, logging.NewNop())
	assert.Error(t, err)
}

func TestOpenMongoRequiresConfig(t *testing.T) {
	_, err := Open(context.Background(), DriverMongo, nil, 0, logging.NewNop())
	assert.Error(t, err)
}
