package chatsync

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Credentials
// ============================================================================

// CredentialSource supplies the short-lived bearer credential used for both
// the transport handshake and message-store calls. Implementations typically
// wrap a session provider that refreshes the token as needed.
type CredentialSource interface {
	// Token returns a currently valid bearer credential. Returning an
	// *AuthError (rather than a generic error) pauses reconnection and
	// surfaces a "needs re-authentication" state instead of backoff churn.
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialSource for a fixed token, mainly for the CLI
// and tests. When the token is a JWT, an expired one is reported as an
// *AuthError before any dial is attempted.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", &AuthError{Reason: "no credential configured"}
	}
	if err := checkJWTExpiry(string(t)); err != nil {
		return "", err
	}
	return string(t), nil
}

// checkJWTExpiry inspects the token's exp claim without verifying the
// signature (verification is the server's job; the client only wants to
// avoid dialing with a token it knows is dead). Non-JWT tokens pass.
func checkJWTExpiry(token string) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil // opaque token; let the server judge it
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Until(exp.Time) <= 0 {
		return &AuthError{Reason: "credential expired"}
	}
	return nil
}
