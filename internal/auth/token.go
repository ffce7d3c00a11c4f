package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the caller of the annotation API. Subject is the
// annotation user (acct:name@authority).
type Claims struct {
	Name string `json:"name,omitempty"`
	// Groups limits which groups the caller may focus. Empty allows all.
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// CanFocus reports whether the caller may load the given group.
func (c Claims) CanFocus(group string) bool {
	return len(c.Groups) == 0 || slices.Contains(c.Groups, group)
}

// IssueToken signs claims valid for ttl from now.
func IssueToken(secret []byte, user, name string, groups []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("issue token: user is required")
	}
	now := time.Now()
	claims := Claims{
		Name:   name,
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
