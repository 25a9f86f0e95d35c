package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest extracts a bearer token from the Authorization header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ParseUnverified reads identity claims from a JWT without checking its
// signature. Only the development verifier uses it.
func ParseUnverified(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	var claims identityClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("subject claim not found in token")
	}
	return claims.identity(), nil
}

// identityClaims covers the Keycloak access-token claims the service reads.
type identityClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Phone         string   `json:"phone_number"`
	PhoneVerified bool     `json:"phone_number_verified"`
	Roles         []string `json:"roles"`
	RealmAccess   struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func (c *identityClaims) identity() *Identity {
	roles := append([]string{}, c.Roles...)
	roles = append(roles, c.RealmAccess.Roles...)
	return &Identity{
		Subject:       c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Phone:         c.Phone,
		PhoneVerified: c.PhoneVerified,
		Roles:         roles,
	}
}
