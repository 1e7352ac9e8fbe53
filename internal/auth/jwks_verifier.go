package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/retry"
)

// TokenVerifier turns a bearer token into the caller's identity
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}

// zitadelClaims are the access token claims this service reads
type zitadelClaims struct {
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// JWKSVerifier checks asymmetric access tokens issued by Zitadel. Keys come
// from the issuer's JWKS and are refreshed in the background until Close.
type JWKSVerifier struct {
	keys   jwt.Keyfunc
	parser *jwt.Parser
	stop   context.CancelFunc
}

// NewJWKSVerifier resolves the JWKS endpoint, through OIDC discovery unless
// cfg.JWKSURL is set, and loads the signing keys.
func NewJWKSVerifier(ctx context.Context, cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("zitadel issuer is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var err error
		jwksURL, err = discoverJWKSURL(discoverCtx, &http.Client{Timeout: 10 * time.Second}, cfg.Issuer,
			retry.Exponential(3, 500*time.Millisecond, 5*time.Second))
		if err != nil {
			return nil, err
		}
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}

	v := newJWKSVerifier(jwks.Keyfunc, cfg)
	v.stop = stop
	return v, nil
}

func newJWKSVerifier(keys jwt.Keyfunc, cfg *config.ZitadelConfig) *JWKSVerifier {
	audience := cfg.Audience
	if audience == "" {
		audience = cfg.ClientID
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &JWKSVerifier{
		keys:   keys,
		parser: jwt.NewParser(opts...),
		stop:   func() {},
	}
}

// Verify validates signature, issuer, audience and expiry
func (v *JWKSVerifier) Verify(tokenString string) (*Identity, error) {
	claims := &zitadelClaims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, v.keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email, Name: name}, nil
}

// Close stops the background key refresh
func (v *JWKSVerifier) Close() {
	v.stop()
}

// discoverJWKSURL reads jwks_uri from the issuer's discovery document.
// Network errors and 5xx responses are retried.
func discoverJWKSURL(ctx context.Context, httpClient *http.Client, issuer string, policy retry.Policy) (string, error) {
	discoveryURL := issuer + "/.well-known/openid-configuration"

	var doc struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
		if err != nil {
			return err
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retry.Retryable(fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&doc)
	})
	if err != nil {
		return "", fmt.Errorf("OIDC discovery failed for %s: %w", issuer, err)
	}

	if doc.Issuer != "" && doc.Issuer != issuer {
		return "", fmt.Errorf("discovery document is for issuer %q, expected %q", doc.Issuer, issuer)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("jwks_uri not found in discovery document")
	}
	return doc.JWKSURI, nil
}
