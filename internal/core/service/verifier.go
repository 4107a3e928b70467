package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

// tokenClaims is the payload issued by the account service at login.
type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenVerifier implements ports.CredentialVerifier for HS256 bearer tokens.
type TokenVerifier struct {
	secret   []byte
	denylist ports.TokenDenylist
	parser   *jwt.Parser
}

// NewTokenVerifier builds a verifier. denylist may be nil.
func NewTokenVerifier(secret string, denylist ports.TokenDenylist) *TokenVerifier {
	return &TokenVerifier{
		secret:   []byte(secret),
		denylist: denylist,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

var _ ports.CredentialVerifier = (*TokenVerifier)(nil)

func (v *TokenVerifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, authError(domain.ErrMissingToken)
	}

	claims := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Identity{}, authError(domain.ErrTokenExpired)
	case err != nil:
		return domain.Identity{}, authError(fmt.Errorf("%w: %w", domain.ErrInvalidToken, err))
	}

	if claims.UserID == "" || claims.Email == "" {
		return domain.Identity{}, authError(fmt.Errorf("%w: missing identity claims", domain.ErrInvalidToken))
	}

	if v.denylist != nil {
		revoked, err := v.denylist.IsRevoked(ctx, token)
		if err != nil {
			// Fail closed: an unreachable denylist cannot vouch for the token.
			return domain.Identity{}, authError(fmt.Errorf("%w: %w", domain.ErrInvalidToken, err))
		}
		if revoked {
			return domain.Identity{}, authError(domain.ErrTokenRevoked)
		}
	}

	return domain.Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

func authError(cause error) error {
	return fmt.Errorf("%w: %w", domain.ErrAuth, cause)
}
