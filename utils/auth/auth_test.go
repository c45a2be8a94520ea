package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pixscaler/pixscaler-api/database/dbtest"
	"github.com/pixscaler/pixscaler-api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testManager() *JWTManager {
	return NewJWTManager(JWTConfig{
		Secret:        "test-secret",
		Expiry:        time.Hour,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "pixscaler-test",
	})
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	m := testManager()

	token, jti, err := m.GenerateAccessToken(7, "a@example.com", true, 3)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.True(t, claims.IsPremium)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.Equal(t, jti, claims.ID)

	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestValidateTokenRejects(t *testing.T) {
	m := testManager()

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager(JWTConfig{Secret: "other", Expiry: time.Hour})
		token, _, err := other.GenerateAccessToken(1, "x@example.com", false, 0)
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewJWTManager(JWTConfig{Secret: "test-secret", Expiry: -time.Minute})
		token, _, err := expired.GenerateAccessToken(1, "x@example.com", false, 0)
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.ValidateToken("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("access token used as refresh", func(t *testing.T) {
		token, _, err := m.GenerateAccessToken(1, "x@example.com", false, 0)
		require.NoError(t, err)
		_, err = m.ValidateRefreshToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestGeneratePair(t *testing.T) {
	m := testManager()

	pair, err := m.GeneratePair(5, "p@example.com", false, 0)
	require.NoError(t, err)

	claims, err := m.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, uint(5), claims.UserID)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	_, err := h.Hash("12345")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NoError(t, h.Verify(hash, "correct horse"))
	assert.ErrorIs(t, h.Verify(hash, "wrong horse"), ErrPasswordMismatch)
	assert.False(t, h.NeedsRehash(hash))

	t.Run("cost change needs rehash", func(t *testing.T) {
		stronger := NewPasswordHasher(bcrypt.MinCost + 1)
		assert.True(t, stronger.NeedsRehash(hash))
		assert.NoError(t, stronger.Verify(hash, "correct horse"), "old hashes still verify")
	})

	t.Run("garbage hash", func(t *testing.T) {
		assert.True(t, h.NeedsRehash("not-a-hash"))
		err := h.Verify("not-a-hash", "correct horse")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPasswordMismatch)
	})

	t.Run("invalid cost falls back to default", func(t *testing.T) {
		assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(0).Cost())
		assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(bcrypt.MaxCost+1).Cost())
	})
}

func TestBlacklist(t *testing.T) {
	db := dbtest.NewDB(t)
	svc := NewBlacklistService(db)
	ctx := context.Background()

	require.NoError(t, svc.RevokeToken(ctx, "live", 1, time.Now().Add(time.Hour), "logout"))
	require.NoError(t, svc.RevokeToken(ctx, "live", 1, time.Now().Add(time.Hour), "logout"), "revoking twice is a no-op")
	require.NoError(t, svc.RevokeToken(ctx, "stale", 1, time.Now().Add(-time.Hour), "logout"))

	revoked, err := svc.IsTokenRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = svc.IsTokenRevoked(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)

	removed, err := svc.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	user := model.User{Email: "v@example.com", PasswordHash: "x", Name: "v"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, svc.RevokeAllUserTokens(ctx, user.ID))
	require.NoError(t, db.First(&user, user.ID).Error)
	assert.Equal(t, 1, user.TokenVersion)
}
