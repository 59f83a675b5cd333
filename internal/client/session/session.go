// Package session resolves the credential that gates photo downloads.
// Acquiring the credential (sign-in) happens elsewhere; this package only
// reads it and checks that it is still usable.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/estisync/internal/common"
)

// Provider returns the current session token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", common.ErrNoSession
	}
	return string(s), nil
}

// File reads the token from a file on every call so a refreshed token is
// picked up without a restart.
type File string

func (f File) Token(ctx context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return "", common.ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("read session token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", common.ErrNoSession
	}
	return tok, nil
}

// Check rejects empty tokens and JWTs whose exp claim is not after now. The
// signature is not verified; that is the backend's job. Tokens that are not
// JWTs are accepted as opaque.
func Check(token string, now time.Time) error {
	if token == "" {
		return common.ErrNoSession
	}
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return fmt.Errorf("%w at %s", common.ErrSessionExpired, claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// Resolve fetches a token from p and checks it.
func Resolve(ctx context.Context, p Provider, now time.Time) (string, error) {
	if p == nil {
		return "", common.ErrNoSession
	}
	tok, err := p.Token(ctx)
	if err != nil {
		return "", err
	}
	if err := Check(tok, now); err != nil {
		return "", err
	}
	return tok, nil
}
