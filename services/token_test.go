package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-signing-secret"

func newTestTokenService(t *testing.T) (*TokenService, *MemoryTokenStore) {
	t.Helper()
	store := NewMemoryTokenStore()
	svc, err := NewTokenService(testSecret, store)
	require.NoError(t, err)
	return svc, store
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService("", NewMemoryTokenStore())
	assert.Error(t, err)
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	svc, store := newTestTokenService(t)

	pair, err := svc.IssueTokenPair(42, "alice@example.com", "admin")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(3600), pair.ExpiresIn)
	assert.Equal(t, 1, store.Count())

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestValidateAccessToken_RejectsRefreshToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	pair, err := svc.IssueTokenPair(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	_, err = svc.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	svc, _ := newTestTokenService(t)
	svc.AccessTTL = -time.Minute

	pair, err := svc.IssueTokenPair(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessToken_Tampered(t *testing.T) {
	svc, _ := newTestTokenService(t)
	other, err := NewTokenService("a-completely-different-secret", NewMemoryTokenStore())
	require.NoError(t, err)

	pair, err := other.IssueTokenPair(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.ValidateAccessToken("not-a-jwt-at-all")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshAccessToken_RotatesAndRevokesOld(t *testing.T) {
	svc, _ := newTestTokenService(t)
	svc.SetRoleResolver(func(userID uint) (string, error) { return "user", nil })

	pair, err := svc.IssueTokenPair(7, "bob@example.com", "user")
	require.NoError(t, err)

	rotated, err := svc.RefreshAccessToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	claims, err := svc.ValidateAccessToken(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "user", claims.Role)

	// The consumed refresh token is single-use.
	_, err = svc.RefreshAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// The rotated one still works.
	_, err = svc.ValidateRefreshToken(rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshAccessToken_ExpiredRefreshToken(t *testing.T) {
	svc, _ := newTestTokenService(t)
	svc.RefreshTTL = -time.Minute

	pair, err := svc.IssueTokenPair(1, "a@b.c", "user")
	require.NoError(t, err)

	_, err = svc.RefreshAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRevokeRefreshToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	pair, err := svc.IssueTokenPair(3, "c@d.e", "user")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefreshToken(pair.RefreshToken))
	_, err = svc.ValidateRefreshToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// An access token cannot be revoked through this path.
	err = svc.RevokeRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestRevokeAllUserTokens(t *testing.T) {
	svc, _ := newTestTokenService(t)

	first, err := svc.IssueTokenPair(5, "e@f.g", "user")
	require.NoError(t, err)
	second, err := svc.IssueTokenPair(5, "e@f.g", "user")
	require.NoError(t, err)
	other, err := svc.IssueTokenPair(6, "h@i.j", "user")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAllUserTokens(5))

	_, err = svc.ValidateRefreshToken(first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = svc.ValidateRefreshToken(second.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Other users are untouched.
	_, err = svc.ValidateRefreshToken(other.RefreshToken)
	assert.NoError(t, err)
}

func TestMemoryTokenStore_PurgeExpired(t *testing.T) {
	store := NewMemoryTokenStore()
	now := time.Now()

	require.NoError(t, store.Save(RefreshTokenRecord{JTI: "live", UserID: 1, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.Save(RefreshTokenRecord{JTI: "dead", UserID: 1, ExpiresAt: now.Add(-time.Hour)}))

	require.NoError(t, store.PurgeExpired(now))
	assert.Equal(t, 1, store.Count())

	_, found, err := store.Get("dead")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = store.Get("live")
	require.NoError(t, err)
	assert.True(t, found)
}
