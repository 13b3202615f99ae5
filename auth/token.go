package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "taskboard-sync"

var ErrMissingToken = errors.New("missing bearer token")

// Claims is the data carried inside a session token.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	key      []byte
	duration time.Duration
	now      func() time.Time
}

func NewTokens(secret string, duration time.Duration) *Tokens {
	return &Tokens{key: []byte(secret), duration: duration, now: time.Now}
}

// Generate creates a signed token for userID.
func (t *Tokens) Generate(userID string) (string, error) {
	now := t.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

// Validate checks signature, algorithm and expiry and returns the claims.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header or,
// for websocket upgrades where browsers cannot set headers, the token query
// parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
