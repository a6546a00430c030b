package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "user-1", "exp": exp.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestStaticToken_ValidJWT(t *testing.T) {
	token := StaticToken(signedToken(t, time.Now().Add(time.Hour)))
	got, err := token.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != string(token) {
		t.Error("token mangled")
	}
}

func TestStaticToken_ExpiredJWT(t *testing.T) {
	token := StaticToken(signedToken(t, time.Now().Add(-time.Minute)))
	_, err := token.Token(context.Background())
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestStaticToken_OpaqueTokenPasses(t *testing.T) {
	// Non-JWT credentials are the server's problem, not ours.
	token := StaticToken("opaque-session-token")
	if _, err := token.Token(context.Background()); err != nil {
		t.Fatalf("opaque token rejected: %v", err)
	}
}

func TestStaticToken_Empty(t *testing.T) {
	var aerr *AuthError
	if _, err := StaticToken("").Token(context.Background()); !errors.As(err, &aerr) {
		t.Fatal("empty credential must be an auth error")
	}
}

func TestStaticToken_JWTWithoutExp(t *testing.T) {
	claims := jwt.MapClaims{"sub": "user-1"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := StaticToken(token).Token(context.Background()); err != nil {
		t.Fatalf("token without exp rejected: %v", err)
	}
}
