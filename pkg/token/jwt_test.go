package token

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	t.Parallel()

	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("user_123", "alice")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user_123", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "user_123", claims.Subject)
}

func TestVerifyToken_Expired(t *testing.T) {
	t.Parallel()

	m := NewJWTManager("secret", -1)
	tok, err := m.GenerateToken("u1", "bob")
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewJWTManager("right", 1).GenerateToken("u1", "bob")
	require.NoError(t, err)

	_, err = NewJWTManager("wrong", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyToken_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewJWTManager("k", 1).VerifyToken("not.a.jwt")
	assert.Error(t, err)
}

func TestContextSessionResolver(t *testing.T) {
	t.Parallel()

	var r ContextSessionResolver

	user, err := r.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)

	ctx := WithClaims(context.Background(), &CustomClaims{UserID: "u9", Username: "carol"})
	user, err = r.GetUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u9", user.ID)
	assert.Equal(t, "carol", user.Username)
}
