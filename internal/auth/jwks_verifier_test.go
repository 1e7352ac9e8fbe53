package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/retry"
)

const testIssuer = "https://auth.matrixai.test"

func newTestVerifier(t *testing.T, cfg *config.ZitadelConfig) (*JWKSVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keys := func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}
	return newJWKSVerifier(keys, cfg), key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestJWKSVerifierVerify(t *testing.T) {
	v, key := newTestVerifier(t, &config.ZitadelConfig{
		Issuer:   testIssuer,
		ClientID: "matrixai-web",
		Leeway:   30 * time.Second,
	})

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss":                testIssuer,
			"aud":                []string{"matrixai-web"},
			"sub":                "zitadel-user",
			"email":              "z@example.com",
			"preferred_username": "zed",
			"exp":                time.Now().Add(time.Hour).Unix(),
		}
	}

	id, err := v.Verify(signRS256(t, key, base()))
	require.NoError(t, err)
	assert.Equal(t, "zitadel-user", id.UserID)
	assert.Equal(t, "z@example.com", id.Email)
	assert.Equal(t, "zed", id.Name)

	withinLeeway := base()
	withinLeeway["exp"] = time.Now().Add(-10 * time.Second).Unix()
	_, err = v.Verify(signRS256(t, key, withinLeeway))
	assert.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c jwt.MapClaims)
	}{
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "https://elsewhere.test" }},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = []string{"other-app"} }},
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{"no expiry", func(c jwt.MapClaims) { delete(c, "exp") }},
		{"no subject", func(c jwt.MapClaims) { delete(c, "sub") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := base()
			tt.mutate(claims)
			_, err := v.Verify(signRS256(t, key, claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWKSVerifierRejectsHMACTokens(t *testing.T) {
	v, _ := newTestVerifier(t, &config.ZitadelConfig{Issuer: testIssuer})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "owner1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWKSVerifierAudienceOverridesClientID(t *testing.T) {
	v, key := newTestVerifier(t, &config.ZitadelConfig{
		Issuer:   testIssuer,
		ClientID: "matrixai-web",
		Audience: "matrixai-api",
	})

	_, err := v.Verify(signRS256(t, key, jwt.MapClaims{
		"iss": testIssuer,
		"aud": "matrixai-api",
		"sub": "zitadel-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	assert.NoError(t, err)
}

func TestDiscoverJWKSURL(t *testing.T) {
	var calls atomic.Int32
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   issuer,
			"jwks_uri": issuer + "/oauth/v2/keys",
		})
	}))
	defer srv.Close()
	issuer = srv.URL

	jwksURL, err := discoverJWKSURL(context.Background(), srv.Client(), issuer, retry.Constant(3, time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/oauth/v2/keys", jwksURL)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDiscoverJWKSURL_IssuerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   "https://other.test",
			"jwks_uri": "https://other.test/keys",
		})
	}))
	defer srv.Close()

	_, err := discoverJWKSURL(context.Background(), srv.Client(), srv.URL, retry.Constant(1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected")
}

func TestDiscoverJWKSURL_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := discoverJWKSURL(context.Background(), srv.Client(), srv.URL, retry.Constant(3, time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
