package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken  = errors.New("missing authorization header")
	ErrMalformed     = errors.New("invalid authorization header format")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator checks bearer tokens against the JWKS verifier first and
// falls back to legacy HMAC tokens when a secret is configured
type Authenticator struct {
	verifier  TokenVerifier
	jwtSecret string
}

// NewAuthenticator creates an authenticator. verifier may be nil.
func NewAuthenticator(verifier TokenVerifier, jwtSecret string) *Authenticator {
	return &Authenticator{verifier: verifier, jwtSecret: jwtSecret}
}

// Configured reports whether any token check is available
func (a *Authenticator) Configured() bool {
	return a.verifier != nil || a.jwtSecret != ""
}

// Authenticate validates the value of an Authorization header
func (a *Authenticator) Authenticate(header string) (*Identity, error) {
	if header == "" {
		return nil, ErrMissingToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return nil, ErrMalformed
	}
	tokenString := parts[1]

	if !a.Configured() {
		return nil, ErrNotConfigured
	}

	if a.verifier != nil {
		if id, err := a.verifier.Verify(tokenString); err == nil {
			return id, nil
		}
	}

	if a.jwtSecret != "" {
		if claims, err := ValidateLegacyToken(tokenString, a.jwtSecret); err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
		}
	}

	return nil, ErrInvalidToken
}
