package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

const testSecret = "test-secret"

type stubDenylist struct {
	revoked map[string]bool
	err     error
}

func (d *stubDenylist) IsRevoked(_ context.Context, token string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.revoked[token], nil
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"userId": "u1",
		"email":  "u1@example.com",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func TestTokenVerifier_Valid(t *testing.T) {
	v := NewTokenVerifier(testSecret, nil)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if id.UserID != "u1" || id.Email != "u1@example.com" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestTokenVerifier_Rejects(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noExp := validClaims()
	delete(noExp, "exp")

	noEmail := validClaims()
	delete(noEmail, "email")

	cases := []struct {
		name  string
		token string
		cause error
	}{
		{"missing", "", domain.ErrMissingToken},
		{"blank", "   ", domain.ErrMissingToken},
		{"garbage", "not-a-jwt", domain.ErrInvalidToken},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), domain.ErrInvalidToken},
		{"wrong algorithm", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()), domain.ErrInvalidToken},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired), domain.ErrTokenExpired},
		{"no expiry", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExp), domain.ErrInvalidToken},
		{"missing email", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noEmail), domain.ErrInvalidToken},
	}

	v := NewTokenVerifier(testSecret, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token)
			if !errors.Is(err, domain.ErrAuth) {
				t.Fatalf("expected ErrAuth, got: %v", err)
			}
			if !errors.Is(err, tc.cause) {
				t.Errorf("expected %v, got: %v", tc.cause, err)
			}
		})
	}
}

func TestTokenVerifier_Denylist(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

	v := NewTokenVerifier(testSecret, &stubDenylist{revoked: map[string]bool{token: true}})
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Errorf("expected ErrTokenRevoked, got: %v", err)
	}

	v = NewTokenVerifier(testSecret, &stubDenylist{err: errors.New("redis down")})
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, domain.ErrAuth) {
		t.Errorf("expected denylist failure to reject, got: %v", err)
	}
}
