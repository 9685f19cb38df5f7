// Package auth issues and validates the bearer tokens that gate MyNewsLens's
// HTTP and WebSocket endpoints, and hashes the passwords the store persists.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"mynewslens/internal/domain"
)

// DefaultTTL is the token lifetime used when a caller doesn't ask for a
// shorter one — 24 hours, per spec.
const DefaultTTL = 24 * time.Hour

// IssueToken signs a compact token carrying the user id as its subject.
func IssueToken(secret []byte, userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", domain.ErrInternal, err)
	}
	return signed, nil
}

// ParseToken validates a bearer token and returns the user id from its
// subject claim.
func ParseToken(secret []byte, tokenString string) (int64, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return 0, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: invalid claims", domain.ErrUnauthorized)
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: invalid sub claim", domain.ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric sub claim", domain.ErrUnauthorized)
	}
	return userID, nil
}

// FromRequest extracts and validates the bearer token from a request's
// Authorization header, returning the subject user id.
func FromRequest(secret []byte, r *http.Request) (int64, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return 0, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	return ParseToken(secret, strings.TrimPrefix(authz, prefix))
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%w: hash password: %v", domain.ErrInternal, err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
