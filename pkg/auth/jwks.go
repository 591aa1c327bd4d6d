package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSClientInterface defines the interface for JWT token validation.
type JWKSClientInterface interface {
	// ValidateToken validates a JWT token string and returns the claims.
	ValidateToken(tokenString string) (*Claims, error)
	// Close releases any resources held by the client.
	Close()
}

// JWKSConfig contains configuration for the JWKS client.
type JWKSConfig struct {
	// EnableVerification controls whether JWT signatures are verified.
	// Set to false for development mode (parses tokens without verification).
	EnableVerification bool
	// JWKSEndpoints maps issuer URLs to their JWKS endpoint URLs.
	// Only tokens from issuers in this map are accepted.
	JWKSEndpoints map[string]string
}

// JWKSClient validates reviewer and agent tokens. Only whitelisted issuers
// with the service Audience are accepted.
type JWKSClient struct {
	keys    map[string]keyfunc.Keyfunc
	verify  bool
	methods []string
	cancel  context.CancelFunc
}

// NewJWKSClient fetches the key set of every configured issuer. The keyfunc
// refresh goroutines live until Close or until ctx is cancelled.
func NewJWKSClient(ctx context.Context, config *JWKSConfig) (*JWKSClient, error) {
	refreshCtx, cancel := context.WithCancel(ctx)
	client := &JWKSClient{
		keys:    make(map[string]keyfunc.Keyfunc, len(config.JWKSEndpoints)),
		verify:  config.EnableVerification,
		methods: []string{"RS256", "RS384", "RS512", "ES256", "ES384"},
		cancel:  cancel,
	}

	if !client.verify {
		return client, nil
	}

	for issuer, jwksURL := range config.JWKSEndpoints {
		kf, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		client.keys[issuer] = kf
	}

	return client, nil
}

// ValidateToken returns the claims of a valid token. With verification off the
// signature is skipped but the audience is still enforced.
func (c *JWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	if !c.verify {
		return c.parseUnverifiedToken(tokenString)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, c.keyFor,
		jwt.WithAudience(Audience),
		jwt.WithValidMethods(c.methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return claims, nil
}

// keyFor picks the key set by issuer before any signature work is done.
func (c *JWKSClient) keyFor(token *jwt.Token) (any, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	kf, ok := c.keys[claims.Issuer]
	if !ok {
		return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
	}
	return kf.Keyfunc(token)
}

func (c *JWKSClient) parseUnverifiedToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !slices.Contains(claims.Audience, Audience) {
		return nil, fmt.Errorf("token audience must include %q", Audience)
	}
	return claims, nil
}

// Close stops the background key refresh.
func (c *JWKSClient) Close() {
	c.cancel()
}

var _ JWKSClientInterface = (*JWKSClient)(nil)
