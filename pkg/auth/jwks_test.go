package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestToken creates an unsigned JWT for dev mode.
func createTestToken(t *testing.T, claims *Claims) string {
	t.Helper()

	headerJSON, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)
	claimsJSON, err := json.Marshal(claims)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "."
}

func devClient(t *testing.T) *JWKSClient {
	t.Helper()
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestJWKSClient_ValidateToken_DevMode(t *testing.T) {
	client := devClient(t)

	token := createTestToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "reviewer-1",
			Audience: jwt.ClaimStrings{Audience},
		},
		ProjectID: "project-123",
		Email:     "reviewer@example.com",
		Roles:     []string{"admin"},
	})

	claims, err := client.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", claims.Subject)
	assert.Equal(t, "project-123", claims.ProjectID)
	assert.Equal(t, "reviewer@example.com", claims.Email)
	assert.Equal(t, []string{"admin"}, claims.Roles)
}

func TestJWKSClient_ValidateToken_WrongAudience(t *testing.T) {
	client := devClient(t)

	token := createTestToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Audience: jwt.ClaimStrings{"engine"}},
		ProjectID:        "project-123",
	})

	_, err := client.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audience")
}

func TestJWKSClient_ValidateToken_Malformed(t *testing.T) {
	client := devClient(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := client.ValidateToken(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestNewJWKSClient_InvalidEndpoint(t *testing.T) {
	_, err := NewJWKSClient(context.Background(), &JWKSConfig{
		EnableVerification: true,
		JWKSEndpoints:      map[string]string{"https://issuer": "not-a-valid-url"},
	})
	// keyfunc may defer the fetch to its background refresh; only a synchronous failure is checked.
	if err != nil {
		assert.Contains(t, err.Error(), "failed to create JWKS client")
	}
}

// serveJWKS publishes the public half of key under kid.
func serveJWKS(t *testing.T, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	jwk := map[string]string{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{jwk}})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestJWKSClient_ValidateToken_Verified(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const issuer = "https://auth.example.com"

	client, err := NewJWKSClient(context.Background(), &JWKSConfig{
		EnableVerification: true,
		JWKSEndpoints:      map[string]string{issuer: serveJWKS(t, key, "k1")},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	sign := func(iss string, aud ...string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    iss,
				Subject:   "reviewer-1",
				Audience:  aud,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			ProjectID: "project-123",
		})
		tok.Header["kid"] = "k1"
		signed, err := tok.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	claims, err := client.ValidateToken(sign(issuer, Audience))
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", claims.Subject)

	_, err = client.ValidateToken(sign("https://elsewhere", Audience))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized issuer")

	_, err = client.ValidateToken(sign(issuer, "engine"))
	require.Error(t, err)

	_, err = client.ValidateToken(createTestToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Audience: jwt.ClaimStrings{Audience}},
	}))
	assert.Error(t, err, "unsigned tokens are rejected when verifying")
}
