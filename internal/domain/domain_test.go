package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGroupConversation(t *testing.T) {
	creator := uuid.NewString()
	a, b := uuid.NewString(), uuid.NewString()

	conv, participants, err := NewGroupConversation("  team  ", creator, []string{a, b, a, creator})
	require.NoError(t, err)

	assert.True(t, conv.IsGroup)
	assert.Equal(t, "team", conv.Title)
	require.Len(t, participants, 3)
	assert.Equal(t, RoleAdmin, participants[0].Role)
	assert.Equal(t, creator, participants[0].UserID)
	for _, p := range participants {
		assert.Equal(t, conv.ID, p.ConversationID)
	}
}

func TestNewGroupConversationRejectsTooManyParticipants(t *testing.T) {
	ids := make([]string, MaxGroupParticipants+1)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	_, _, err := NewGroupConversation("big", uuid.NewString(), ids)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewDirectConversationRejectsSelf(t *testing.T) {
	id := uuid.NewString()
	_, _, err := NewDirectConversation("me", id, id)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewMessageValidation(t *testing.T) {
	now := time.Now()

	_, err := NewMessage("not-a-uuid", uuid.NewString(), "hi", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewMessage(uuid.NewString(), uuid.NewString(), strings.Repeat("x", MaxBodyLength+1), now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	msg, err := NewMessage(uuid.NewString(), uuid.NewString(), "hello", now)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())
	assert.False(t, msg.Edited)
}

func TestMessageEdit(t *testing.T) {
	msg, err := NewMessage(uuid.NewString(), uuid.NewString(), "hello", time.Now())
	require.NoError(t, err)

	require.NoError(t, msg.Edit("hello again", time.Now()))
	assert.True(t, msg.Edited)
	require.NotNil(t, msg.EditedAt)

	msg.MarkDeleted()
	assert.ErrorIs(t, msg.Edit("too late", time.Now()), ErrInvalidInput)
}
