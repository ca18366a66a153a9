package model

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

func signTestToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret())
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestParseToken(t *testing.T) {

	token := signTestToken(t, Claims{
		UserID:   1,
		Username: "admin",
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Username != "admin" || claims.UserID != 1 || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {

	token := signTestToken(t, Claims{
		UserID:   1,
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := ParseToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	if _, err := ParseToken("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

// A seeded user's password must verify against the stored hash, which is
// what stands behind login working on a fresh database.
func TestNewUserPasswordRoundTrip(t *testing.T) {

	user, err := NewUser("admin", "hunter2", "admin", "Administrator")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if user.PasswordHash == "" || user.PasswordHash == "hunter2" {
		t.Fatalf("password stored unhashed: %q", user.PasswordHash)
	}

	if err := user.CheckPassword("hunter2"); err != nil {
		t.Errorf("CheckPassword with correct password: %v", err)
	}
	if err := user.CheckPassword("wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("CheckPassword with wrong password = %v, want ErrBadCredentials", err)
	}
}

func TestNewUserRejectsEmptyPassword(t *testing.T) {
	if _, err := NewUser("admin", "", "admin", ""); err == nil {
		t.Error("expected error for empty password")
	}
}
