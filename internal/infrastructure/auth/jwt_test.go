package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret", "courier")
	userID := uuid.NewString()

	token, err := v.Issue(userID, "alice", time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: userID, Username: "alice"}, id)
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("secret", "courier")
	userID := uuid.NewString()

	expired, err := v.Issue(userID, "alice", -time.Minute)
	require.NoError(t, err)

	wrongKey, err := NewJWTVerifier("other", "courier").Issue(userID, "alice", time.Minute)
	require.NoError(t, err)

	wrongIssuer, err := NewJWTVerifier("secret", "elsewhere").Issue(userID, "alice", time.Minute)
	require.NoError(t, err)

	badSubject, err := v.Issue("not-a-uuid", "alice", time.Minute)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    "courier",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "  ", ErrMissingToken},
		{"garbage", "a.b.c", ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"wrong key", wrongKey, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"bad subject", badSubject, ErrInvalidToken},
		{"none alg", noneAlg, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
