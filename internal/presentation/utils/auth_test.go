package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hilthontt/courier/internal/infrastructure/auth"
	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "Basic abc", want: ""},
		{header: "abc", want: ""},
		{header: "", want: ""},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, BearerToken(r), tt.header)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), auth.Identity{UserID: "u"})
	id, ok := IdentityFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u", id.UserID)
}
