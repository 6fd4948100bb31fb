package conversation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hilthontt/courier/internal/domain"
	"github.com/hilthontt/courier/internal/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUseCase(t *testing.T, known ...string) (ConversationUseCase, *memory.ConversationRepository) {
	t.Helper()

	users := memory.NewUserRepository()
	conversations := memory.NewConversationRepository()
	uc := NewConversationUseCase(users, conversations, nil)

	for _, id := range known {
		_, err := uc.Register(context.Background(), id, "")
		require.NoError(t, err)
	}
	return uc, conversations
}

func TestRegisterDefaultsUsername(t *testing.T) {
	uc, _ := newUseCase(t)
	id := uuid.NewString()

	user, err := uc.Register(context.Background(), id, "  ")
	require.NoError(t, err)
	assert.Equal(t, id, user.Username)

	_, err = uc.Register(context.Background(), "bad", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateDirect(t *testing.T) {
	me, other := uuid.NewString(), uuid.NewString()
	uc, conversations := newUseCase(t, me, other)

	conv, err := uc.CreateDirect(context.Background(), me, "chat", other)
	require.NoError(t, err)
	assert.False(t, conv.IsGroup)

	participants, err := conversations.ListByConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	mine, err := uc.ListForUser(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, conv.ID, mine[0].ID)
}

func TestCreateDirectRequiresKnownUser(t *testing.T) {
	me := uuid.NewString()
	uc, _ := newUseCase(t, me)

	_, err := uc.CreateDirect(context.Background(), me, "chat", uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = uc.CreateDirect(context.Background(), me, "", uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateGroup(t *testing.T) {
	me, a, b := uuid.NewString(), uuid.NewString(), uuid.NewString()
	uc, conversations := newUseCase(t, me, a, b)

	conv, err := uc.CreateGroup(context.Background(), me, "crew", []string{a, b, me})
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)

	admin, err := conversations.Get(context.Background(), conv.ID, me)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	member, err := conversations.Get(context.Background(), conv.ID, a)
	require.NoError(t, err)
	assert.False(t, member.IsAdmin())
}

func TestCreateGroupRejectsUnknownParticipants(t *testing.T) {
	me, a := uuid.NewString(), uuid.NewString()
	uc, _ := newUseCase(t, me, a)

	_, err := uc.CreateGroup(context.Background(), me, "crew", []string{a, uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	conversations, err := uc.ListForUser(context.Background(), me)
	require.NoError(t, err)
	assert.Empty(t, conversations)
}
