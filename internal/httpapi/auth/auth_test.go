package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/domain"
)

var testSecret = []byte("test-secret-do-not-use-in-prod")

func TestIssueAndParseToken(t *testing.T) {
	tok, err := IssueToken(testSecret, 42, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	userID, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestIssueToken_DefaultsTTLWhenNonPositive(t *testing.T) {
	tok, err := IssueToken(testSecret, 1, 0)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, tok)
	require.NoError(t, err)
}

func TestParseToken_RejectsWrongSecret(t *testing.T) {
	tok, err := IssueToken(testSecret, 1, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken([]byte("a different secret entirely"), tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestParseToken_RejectsExpiredToken(t *testing.T) {
	// IssueToken replaces a non-positive ttl with DefaultTTL, so the expired
	// token is signed directly.
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = ParseToken(testSecret, tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestParseToken_RejectsGarbage(t *testing.T) {
	_, err := ParseToken(testSecret, "not-a-jwt-at-all")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFromRequest_ExtractsBearerToken(t *testing.T) {
	tok, err := IssueToken(testSecret, 7, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	userID, err := FromRequest(testSecret, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestFromRequest_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := FromRequest(testSecret, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFromRequest_MissingBearerPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic deadbeef")
	_, err := FromRequest(testSecret, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, CheckPassword(hash, "correct-horse-battery-staple"))
	assert.False(t, CheckPassword(hash, "wrong-password"))
}
