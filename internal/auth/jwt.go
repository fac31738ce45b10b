// Inkweld - Collaborative Writing and Worldbuilding Platform
// Copyright 2026 Bobby Quantum (bobbyquantum)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bobbyquantum/inkweld

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bobbyquantum/inkweld-sub004/internal/config"
	"github.com/bobbyquantum/inkweld-sub004/internal/models"
)

// Claims are the token claims shared by first-party session tokens and
// OAuth-issued access tokens. Subject carries the user id or the OAuth
// client id depending on Kind.
type Claims struct {
	Kind        string `json:"kind"`
	DisplayName string `json:"name,omitempty"`

	// ActingUser is the user an OAuth client acts for. Required when
	// Kind is "oauth-client".
	ActingUser string `json:"act,omitempty"`

	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewTokenVerifier builds a verifier from the security configuration.
func NewTokenVerifier(cfg config.SecurityConfig) (*TokenVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &TokenVerifier{secret: []byte(cfg.JWTSecret), leeway: cfg.TokenLeeway}, nil
}

// Verify parses and validates a token and maps its claims to a principal.
func (v *TokenVerifier) Verify(tokenString string) (models.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(v.leeway))
	if err != nil || !token.Valid {
		return models.Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return models.Principal{}, ErrInvalidToken
	}

	switch claims.Kind {
	case string(models.PrincipalOAuthClient):
		if claims.ActingUser == "" {
			return models.Principal{}, ErrInvalidToken
		}
		return models.Principal{
			Kind:         models.PrincipalOAuthClient,
			ID:           claims.Subject,
			DisplayName:  claims.DisplayName,
			ActingUserID: claims.ActingUser,
		}, nil
	case string(models.PrincipalUser), "":
		// First-party tokens predating the kind claim are user tokens.
		return models.Principal{
			Kind:        models.PrincipalUser,
			ID:          claims.Subject,
			DisplayName: claims.DisplayName,
		}, nil
	default:
		return models.Principal{}, ErrInvalidToken
	}
}

// Sign issues a token for a principal. Used by the surrounding platform and
// by tests; the realtime core itself only verifies.
func (v *TokenVerifier) Sign(principal models.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Kind:        string(principal.Kind),
		DisplayName: principal.DisplayName,
		ActingUser:  principal.ActingUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
