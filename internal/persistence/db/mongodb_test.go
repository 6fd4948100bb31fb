package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMongoConfigDefaults(t *testing.T) {
	c, err := MongoConfig{URI: "mongodb://localhost:27017"}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabase, c.Database)
	assert.Equal(t, DefaultConnectionTimeout, c.ConnectionTimeout)
}

func TestConnectRequiresURI(t *testing.T) {
	_, err := Connect(context.Background(), &MongoConfig{Database: "courier"})
	assert.ErrorContains(t, err, "URI is required")

	_, err = Connect(context.Background(), nil)
	assert.Error(t, err)
}

func TestDisconnectNil(t *testing.T) {
	var m *Mongo
	assert.NoError(t, m.Disconnect(context.Background()))
}
