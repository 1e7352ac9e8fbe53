package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubVerifier struct {
	identity *Identity
}

func (v stubVerifier) Verify(tokenString string) (*Identity, error) {
	if v.identity == nil || tokenString != "oidc-token" {
		return nil, errors.New("bad token")
	}
	return v.identity, nil
}

func TestAuthenticateLegacyToken(t *testing.T) {
	a := NewAuthenticator(nil, testSecret)
	token, err := IssueLegacyToken("owner1", "o@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	id, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "owner1", id.UserID)
	assert.Equal(t, "o@example.com", id.Email)
}

func TestAuthenticateRejects(t *testing.T) {
	a := NewAuthenticator(nil, testSecret)
	other, err := IssueLegacyToken("owner1", "", "another-secret", time.Hour)
	require.NoError(t, err)
	expired, err := IssueLegacyToken("owner1", "", testSecret, -time.Hour)
	require.NoError(t, err)

	cases := []struct {
		header string
		want   error
	}{
		{"", ErrMissingToken},
		{"Token abc", ErrMalformed},
		{"Bearer ", ErrMalformed},
		{"Bearer " + other, ErrInvalidToken},
		{"Bearer " + expired, ErrInvalidToken},
		{"Bearer not-a-jwt", ErrInvalidToken},
	}
	for _, tc := range cases {
		_, err := a.Authenticate(tc.header)
		assert.ErrorIs(t, err, tc.want, tc.header)
	}
}

func TestAuthenticatePrefersVerifier(t *testing.T) {
	a := NewAuthenticator(stubVerifier{identity: &Identity{UserID: "zitadel-user", Name: "Z"}}, testSecret)

	id, err := a.Authenticate("Bearer oidc-token")
	require.NoError(t, err)
	assert.Equal(t, "zitadel-user", id.UserID)
	assert.Equal(t, "Z", id.Name)

	token, err := IssueLegacyToken("owner1", "", testSecret, 0)
	require.NoError(t, err)
	id, err = a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "owner1", id.UserID)
}

func TestAuthenticateNotConfigured(t *testing.T) {
	_, err := NewAuthenticator(nil, "").Authenticate("Bearer x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
